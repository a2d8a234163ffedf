// Package gateway implements the ERP query gateway: a named-operation
// catalog executed over database/sql, exposed as an HTTP API guarded by
// credentials with per-minute rate limits, plus the client the assistant
// uses to call it.
//
// Every catalog parameter is bound through placeholders. Raw string
// substitution into SQL is deliberately not supported.
package gateway

// Param describes one operation parameter.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Operation is one entry of the query catalog. SQL uses `?` placeholders in
// the order of Params; each optional parameter appears twice in the query
// (`(? IS NULL OR col LIKE ...)`) and is bound twice by the store.
type Operation struct {
	Name        string
	Title       string
	Description string
	Params      []Param
	SQL         string
}

// Catalog returns the predefined operation catalog. Operation names are the
// wire names the assistant's tools map onto.
func Catalog() map[string]Operation {
	ops := []Operation{
		{
			Name:        "banka_bakiyeleri",
			Title:       "Banka Bakiyeleri",
			Description: "Banka hesaplarının bakiye durumlarını getirir",
			Params: []Param{
				{Name: "banka_adi", Type: "string", Description: "Filtrelemek için banka adı (opsiyonel)"},
				{Name: "para_birimi", Type: "string", Description: "Filtrelemek için para birimi (TL, USD, EUR vb.) (opsiyonel)"},
			},
			SQL: `SELECT bank_name AS "Banka Adı", account_no AS "Hesap No",
       account_title AS "Hesap Tanımı", currency AS "Para Birimi",
       balance AS "Bakiye"
FROM bank_account_balances
WHERE (? IS NULL OR bank_name LIKE '%' || ? || '%')
  AND (? IS NULL OR currency = ?)
  AND balance <> 0
ORDER BY currency, bank_name, account_no`,
		},
		{
			Name:        "bakiyeler_listesi",
			Title:       "Bakiyeler Listesi",
			Description: "Cari bakiyeler listesini getirir (grup, ünvan ve bakiye durumu filtreli)",
			Params: []Param{
				{Name: "grup_filtresi", Type: "string", Description: "Cari grup filtresi (opsiyonel)"},
				{Name: "ticari_unvan_filtresi", Type: "string", Description: "Ticari ünvan filtresi (opsiyonel)"},
				{Name: "bakiye_durumu_filtresi", Type: "string", Description: "alacakli | borclu (opsiyonel)"},
			},
			SQL: `SELECT customer_name AS "CariUnvan", customer_group AS "Grup",
       balance AS "Bakiye", currency AS "Para Birimi",
       CASE WHEN balance < 0 THEN 'alacakli' ELSE 'borclu' END AS "BakiyeDurumu"
FROM customer_balances
WHERE (? IS NULL OR customer_group LIKE '%' || ? || '%')
  AND (? IS NULL OR customer_name LIKE '%' || ? || '%')
  AND (? IS NULL OR (CASE WHEN balance < 0 THEN 'alacakli' ELSE 'borclu' END) = ?)
ORDER BY ABS(balance) DESC`,
		},
		{
			Name:        "genel_bakiye_toplami",
			Title:       "Genel Bakiye Toplamı",
			Description: "Tüm carilerin toplam alacak, borç ve net bakiyesini getirir",
			Params:      []Param{},
			SQL: `SELECT SUM(CASE WHEN balance < 0 THEN -balance ELSE 0 END) AS "ToplamAlacak",
       SUM(CASE WHEN balance > 0 THEN balance ELSE 0 END) AS "ToplamBorc",
       SUM(balance) AS "NetBakiye",
       COUNT(*) AS "CariSayisi"
FROM customer_balances`,
		},
		{
			Name:        "stok_raporu",
			Title:       "Stok Raporu",
			Description: "Stok durumlarını getirir",
			Params: []Param{
				{Name: "urun_adi", Type: "string", Description: "Aranacak ürün adı (opsiyonel)"},
				{Name: "depo_adi", Type: "string", Description: "Filtrelemek için depo adı (opsiyonel)"},
			},
			SQL: `SELECT product_name AS "UrunAdi", warehouse AS "Depo",
       quantity AS "Miktar", unit AS "Birim"
FROM stock_levels
WHERE (? IS NULL OR product_name LIKE '%' || ? || '%')
  AND (? IS NULL OR warehouse LIKE '%' || ? || '%')
ORDER BY product_name`,
		},
		{
			Name:        "cari_bilgi",
			Title:       "Cari Hesap Bilgileri",
			Description: "Cari hesap bilgilerini ve bakiyelerini getirir",
			Params: []Param{
				{Name: "cari_unvani", Type: "string", Description: "Aranacak cari ünvanı (opsiyonel)"},
			},
			SQL: `SELECT customer_name AS "CariUnvan", phone AS "Telefon", city AS "Sehir",
       balance AS "Bakiye", currency AS "Para Birimi"
FROM customers
WHERE (? IS NULL OR customer_name LIKE '%' || ? || '%')
ORDER BY customer_name`,
		},
		{
			Name:        "kredi_karti_limitleri",
			Title:       "Kredi Kartı Limitleri",
			Description: "Kredi kartlarının limit ve kullanım durumlarını getirir",
			Params: []Param{
				{Name: "banka_adi", Type: "string", Description: "Filtrelemek için banka adı (opsiyonel)"},
			},
			SQL: `SELECT bank_name AS "Banka Adı", card_name AS "Kart", total_limit AS "Limit",
       used_amount AS "Kullanılan", total_limit - used_amount AS "Kalan"
FROM credit_cards
WHERE (? IS NULL OR bank_name LIKE '%' || ? || '%')
ORDER BY bank_name`,
		},
		{
			Name:        "doviz_hesaplari_tl_karsiligi",
			Title:       "Döviz Hesapları TL Karşılığı",
			Description: "Döviz hesaplarının güncel kur ile TL karşılıklarını getirir",
			Params: []Param{
				{Name: "banka_adi", Type: "string", Description: "Filtrelemek için banka adı (opsiyonel)"},
			},
			SQL: `SELECT bank_name AS "Banka Adı", currency AS "Para Birimi",
       balance AS "Bakiye", rate AS "Kur", balance * rate AS "TL Karşılığı"
FROM fx_accounts
WHERE (? IS NULL OR bank_name LIKE '%' || ? || '%')
ORDER BY currency, bank_name`,
		},
		{
			Name:        "kendi_ceklerimiz",
			Title:       "Kendi Çeklerimiz",
			Description: "Kendi çeklerimizin vade ve tutar bilgilerini getirir",
			Params: []Param{
				{Name: "durum", Type: "string", Description: "Çek durumu filtresi (opsiyonel)"},
			},
			SQL: `SELECT check_no AS "CekNo", bank_name AS "Banka Adı", due_date AS "Vade",
       amount AS "Tutar", status AS "Durum"
FROM own_checks
WHERE (? IS NULL OR status = ?)
ORDER BY due_date`,
		},
		{
			Name:        "kasa_bakiye",
			Title:       "Kasa Bakiye Detayı",
			Description: "Kasa bakiyelerini para birimi bazında getirir",
			Params:      []Param{},
			SQL: `SELECT cash_register AS "Kasa", currency AS "Para Birimi", balance AS "Bakiye"
FROM cash_registers
ORDER BY cash_register, currency`,
		},
		{
			Name:        "teklif_raporu",
			Title:       "Teklif Raporu",
			Description: "Verilen tekliflerin durumlarını getirir",
			Params: []Param{
				{Name: "cari_unvani", Type: "string", Description: "Cari ünvan filtresi (opsiyonel)"},
				{Name: "teklif_durumu", Type: "string", Description: "Teklif durumu filtresi (opsiyonel)"},
			},
			SQL: `SELECT quote_no AS "TeklifNo", customer_name AS "CariUnvan",
       description AS "TeklifAciklamasi", total AS "Tutar", status AS "Durum",
       quote_date AS "Tarih"
FROM quotes
WHERE (? IS NULL OR customer_name LIKE '%' || ? || '%')
  AND (? IS NULL OR status = ?)
ORDER BY quote_date DESC`,
		},
		{
			Name:        "teklif_detay",
			Title:       "Teklif Detayı",
			Description: "Bir teklifin kalem detaylarını getirir",
			Params: []Param{
				{Name: "teklif_no", Type: "string", Description: "Teklif numarası", Required: true},
			},
			SQL: `SELECT q.quote_no AS "TeklifNo", q.customer_name AS "CariUnvan",
       l.product_name AS "UrunAdi", l.quantity AS "Miktar",
       l.unit_price AS "BirimFiyat", l.quantity * l.unit_price AS "Tutar"
FROM quotes q JOIN quote_lines l ON l.quote_id = q.id
WHERE q.quote_no = ?
ORDER BY l.line_no`,
		},
		{
			Name:        "cari_hareket",
			Title:       "Cari Hareket Raporu",
			Description: "Bir carinin hareket dökümünü getirir",
			Params: []Param{
				{Name: "cari_unvani", Type: "string", Description: "Cari ünvanı", Required: true},
				{Name: "baslangic_tarihi", Type: "string", Description: "Başlangıç tarihi YYYY-MM-DD (opsiyonel)"},
				{Name: "bitis_tarihi", Type: "string", Description: "Bitiş tarihi YYYY-MM-DD (opsiyonel)"},
			},
			SQL: `SELECT entry_date AS "Tarih", document_no AS "EvrakNo", description AS "Aciklama",
       debit AS "Borc", credit AS "Alacak"
FROM customer_movements
WHERE customer_name LIKE '%' || ? || '%'
  AND (? IS NULL OR entry_date >= ?)
  AND (? IS NULL OR entry_date <= ?)
ORDER BY entry_date`,
		},
		{
			Name:        "baglanti_testi",
			Title:       "Bağlantı Testi",
			Description: "Veritabanı bağlantısını test eder",
			Params:      []Param{},
			SQL:         `SELECT 1 AS "Durum"`,
		},
	}

	catalog := make(map[string]Operation, len(ops))
	for _, op := range ops {
		catalog[op.Name] = op
	}
	return catalog
}
