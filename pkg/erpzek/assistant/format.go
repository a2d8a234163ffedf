package assistant

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tarsbilisim/erpzek/pkg/erpzek/render"
)

// lowStockThreshold marks stock rows that need a restock warning.
const lowStockThreshold = 15.0

// formatRows renders rows as the chat text for one operation. Numbers use
// the Turkish convention (3.649.961,09); unknown operations fall back to a
// generic key/value layout.
func formatRows(operation string, rows []map[string]any) string {
	var sb strings.Builder
	switch operation {
	case "banka_bakiyeleri":
		sb.WriteString("🏦 *Banka Bakiyeleri*\n\n")
		for _, r := range rows {
			fmt.Fprintf(&sb, "%s %s (%s)\n   %s %s\n",
				currencyEmoji(str(r, "Para Birimi")), str(r, "Banka Adı"), str(r, "Hesap Tanımı"),
				money(r, "Bakiye"), str(r, "Para Birimi"))
		}
	case "bakiyeler_listesi":
		sb.WriteString("📊 *Cari Bakiyeler*\n\n")
		for _, r := range rows {
			marker := "🔴"
			if str(r, "BakiyeDurumu") == "alacakli" {
				marker = "🟢"
			}
			fmt.Fprintf(&sb, "%s %s (%s)\n   %s %s\n",
				marker, str(r, "CariUnvan"), str(r, "Grup"),
				money(r, "Bakiye"), str(r, "Para Birimi"))
		}
	case "genel_bakiye_toplami":
		sb.WriteString("💼 *Genel Bakiye Durumu*\n\n")
		for _, r := range rows {
			fmt.Fprintf(&sb, "🟢 Toplam Alacak: %s TL\n🔴 Toplam Borç: %s TL\n⚖️ Net Bakiye: %s TL\n%d cari hesap\n",
				money(r, "ToplamAlacak"), money(r, "ToplamBorc"),
				money(r, "NetBakiye"), int(num(r, "CariSayisi")))
		}
	case "stok_raporu":
		sb.WriteString("📦 *Stok Durumu*\n\n")
		for _, r := range rows {
			warn := ""
			if num(r, "Miktar") < lowStockThreshold {
				warn = " ⚠️"
			}
			fmt.Fprintf(&sb, "• %s: %s %s (%s)%s\n",
				str(r, "UrunAdi"), money(r, "Miktar"), str(r, "Birim"), str(r, "Depo"), warn)
		}
	case "cari_bilgi":
		sb.WriteString("👤 *Cari Bilgileri*\n\n")
		for _, r := range rows {
			fmt.Fprintf(&sb, "• %s\n   📍 %s  ☎️ %s\n   Bakiye: %s %s\n",
				str(r, "CariUnvan"), str(r, "Sehir"), str(r, "Telefon"),
				money(r, "Bakiye"), str(r, "Para Birimi"))
		}
	case "kredi_karti_limitleri":
		sb.WriteString("💳 *Kredi Kartı Limitleri*\n\n")
		for _, r := range rows {
			fmt.Fprintf(&sb, "• %s %s\n   Limit: %s  Kullanılan: %s  Kalan: %s\n",
				str(r, "Banka Adı"), str(r, "Kart"),
				money(r, "Limit"), money(r, "Kullanılan"), money(r, "Kalan"))
		}
	case "doviz_hesaplari_tl_karsiligi":
		sb.WriteString("💱 *Döviz Hesapları*\n\n")
		for _, r := range rows {
			fmt.Fprintf(&sb, "%s %s: %s %s → %s TL (kur %s)\n",
				currencyEmoji(str(r, "Para Birimi")), str(r, "Banka Adı"),
				money(r, "Bakiye"), str(r, "Para Birimi"),
				money(r, "TL Karşılığı"), money(r, "Kur"))
		}
	case "kendi_ceklerimiz":
		sb.WriteString("🧾 *Kendi Çeklerimiz*\n\n")
		for _, r := range rows {
			fmt.Fprintf(&sb, "• %s %s\n   Vade: %s  Tutar: %s TL  (%s)\n",
				str(r, "CekNo"), str(r, "Banka Adı"),
				str(r, "Vade"), money(r, "Tutar"), str(r, "Durum"))
		}
	case "kasa_bakiye":
		sb.WriteString("💰 *Kasa Bakiyeleri*\n\n")
		for _, r := range rows {
			fmt.Fprintf(&sb, "%s %s: %s %s\n",
				currencyEmoji(str(r, "Para Birimi")), str(r, "Kasa"),
				money(r, "Bakiye"), str(r, "Para Birimi"))
		}
	case "teklif_raporu":
		sb.WriteString("📋 *Teklifler*\n\n")
		for _, r := range rows {
			fmt.Fprintf(&sb, "• %s - %s\n   %s | %s TL | %s\n",
				str(r, "TeklifNo"), str(r, "CariUnvan"),
				str(r, "Tarih"), money(r, "Tutar"), str(r, "Durum"))
		}
	case "teklif_detay":
		sb.WriteString("📋 *Teklif Detayı*\n\n")
		for i, r := range rows {
			if i == 0 {
				fmt.Fprintf(&sb, "%s - %s\n\n", str(r, "TeklifNo"), str(r, "CariUnvan"))
			}
			fmt.Fprintf(&sb, "• %s: %s x %s = %s TL\n",
				str(r, "UrunAdi"), money(r, "Miktar"), money(r, "BirimFiyat"), money(r, "Tutar"))
		}
	case "cari_hareket":
		sb.WriteString("📒 *Cari Hareketler*\n\n")
		for _, r := range rows {
			fmt.Fprintf(&sb, "• %s %s\n   %s | Borç: %s  Alacak: %s\n",
				str(r, "Tarih"), str(r, "EvrakNo"), str(r, "Aciklama"),
				money(r, "Borc"), money(r, "Alacak"))
		}
	case "baglanti_testi":
		sb.WriteString("✅ Veritabanı bağlantısı çalışıyor.")
	default:
		for _, r := range rows {
			for k, v := range r {
				fmt.Fprintf(&sb, "%s: %v  ", k, v)
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func str(row map[string]any, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return "-"
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return "-"
		}
		return s
	}
	return fmt.Sprintf("%v", v)
}

func num(row map[string]any, key string) float64 {
	switch t := row[key].(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func money(row map[string]any, key string) string {
	return render.FormatNumber(num(row, key))
}

func currencyEmoji(currency string) string {
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case "TL", "TRY":
		return "🇹🇷"
	case "USD":
		return "💵"
	case "EUR":
		return "💶"
	case "GBP":
		return "💷"
	default:
		return "💰"
	}
}
