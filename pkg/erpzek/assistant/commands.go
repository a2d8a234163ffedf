// commands.go implements the slash-command surface: user session commands
// and the admin commands that manage licenses.
package assistant

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tarsbilisim/erpzek/pkg/erpzek/channels"
)

func (a *Assistant) handleCommand(msg *channels.IncomingMessage, content string) string {
	fields := strings.Fields(content)
	// Telegram suffixes commands with the bot handle in groups (/stats@bot).
	cmd, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	args := fields[1:]
	sessionKey := msg.Channel + ":" + msg.From

	switch cmd {
	case "/start":
		if !a.licenses.HasActiveLicense(msg.From) && !a.admins[msg.From] {
			return noLicenseReply
		}
		a.sessions.Reset(sessionKey)
		return fmt.Sprintf("👋 Merhaba! Ben %s. İşletme verileriniz hakkında soru sorabilirsiniz: banka bakiyeleri, cari hesaplar, stok, teklifler ve daha fazlası.", a.cfg.Name)
	case "/reset":
		a.sessions.Reset(sessionKey)
		return "🔄 Konuşma geçmişi temizlendi."
	case "/help", "/yardim":
		return a.helpText()
	}

	if !a.admins[msg.From] {
		return "Bilinmeyen komut. /help yazarak kullanılabilir komutları görebilirsiniz."
	}

	switch cmd {
	case "/adduser":
		return a.cmdAddUser(args)
	case "/removeuser":
		return a.cmdRemoveUser(args)
	case "/activate":
		return a.cmdSetActive(args, true)
	case "/deactivate":
		return a.cmdSetActive(args, false)
	case "/userperm":
		return a.cmdUserPerm(args)
	case "/grantall":
		return a.cmdGrantAll(args)
	case "/revokeall":
		return a.cmdRevokeAll(args)
	case "/users":
		return a.cmdUsers()
	case "/stats":
		return a.cmdStats()
	case "/admin":
		return adminHelp
	default:
		return "Bilinmeyen komut. /admin yazarak yönetici komutlarını görebilirsiniz."
	}
}

const adminHelp = `🛠 *Yönetici Komutları*
/adduser <id> <isim> [yetki1,yetki2|*] - kullanıcı ekle
/removeuser <id> - lisansı iptal et (kayıt silinmez)
/activate <id> - lisansı aktifleştir
/deactivate <id> - lisansı devre dışı bırak
/userperm <id> <yetki1,yetki2|*> - yetkileri değiştir
/grantall <yetki> - yetkiyi tüm kullanıcılara ver
/revokeall <yetki> - yetkiyi tüm kullanıcılardan al
/users - kullanıcı listesi
/stats - kullanım istatistikleri`

func (a *Assistant) helpText() string {
	return `ℹ️ Serbest metinle soru sorabilirsiniz, örneğin:
• "Banka bakiyelerini göster"
• "ACME'nin cari hareketleri"
• "Stok durumu nedir?"

Komutlar:
/reset - konuşma geçmişini temizle
/help - bu mesaj`
}

func (a *Assistant) cmdAddUser(args []string) string {
	if len(args) < 2 {
		return "Kullanım: /adduser <id> <isim> [yetkiler]"
	}
	var caps []string
	if len(args) > 2 {
		caps = strings.Split(args[2], ",")
	}
	if a.licenses.Grant(args[0], args[1], caps) {
		return fmt.Sprintf("✅ %s (%s) eklendi.", args[1], args[0])
	}
	return fmt.Sprintf("ℹ️ %s zaten kayıtlı.", args[0])
}

func (a *Assistant) cmdRemoveUser(args []string) string {
	if len(args) < 1 {
		return "Kullanım: /removeuser <id>"
	}
	if a.licenses.Revoke(args[0]) {
		return fmt.Sprintf("✅ %s lisansı iptal edildi. Kayıt ve kullanım geçmişi korunuyor.", args[0])
	}
	return fmt.Sprintf("ℹ️ %s zaten pasif veya kayıtlı değil.", args[0])
}

func (a *Assistant) cmdSetActive(args []string, active bool) string {
	if len(args) < 1 {
		return "Kullanım: /activate <id> veya /deactivate <id>"
	}
	var changed bool
	if active {
		changed = a.licenses.Activate(args[0])
	} else {
		changed = a.licenses.Deactivate(args[0])
	}
	switch {
	case changed && active:
		return fmt.Sprintf("✅ %s aktifleştirildi.", args[0])
	case changed:
		return fmt.Sprintf("✅ %s devre dışı bırakıldı.", args[0])
	default:
		return fmt.Sprintf("ℹ️ %s için değişiklik yapılmadı.", args[0])
	}
}

func (a *Assistant) cmdUserPerm(args []string) string {
	if len(args) < 2 {
		return "Kullanım: /userperm <id> <yetki1,yetki2|*>"
	}
	if a.licenses.SetCapabilities(args[0], strings.Split(args[1], ",")) {
		return fmt.Sprintf("✅ %s yetkileri güncellendi: %s", args[0], args[1])
	}
	return fmt.Sprintf("ℹ️ %s için değişiklik yapılmadı.", args[0])
}

func (a *Assistant) cmdGrantAll(args []string) string {
	if len(args) < 1 {
		return "Kullanım: /grantall <yetki>"
	}
	changed := 0
	for _, u := range a.licenses.Users() {
		if a.licenses.GrantCapability(u.UserID, args[0]) {
			changed++
		}
	}
	if changed == 0 {
		return fmt.Sprintf("ℹ️ '%s' yetkisi tüm kullanıcılarda zaten mevcut.", args[0])
	}
	return fmt.Sprintf("✅ '%s' yetkisi %d kullanıcıya verildi.", args[0], changed)
}

func (a *Assistant) cmdRevokeAll(args []string) string {
	if len(args) < 1 {
		return "Kullanım: /revokeall <yetki>"
	}
	changed := 0
	for _, u := range a.licenses.Users() {
		if a.licenses.RevokeCapability(u.UserID, args[0]) {
			changed++
		}
	}
	if changed == 0 {
		return fmt.Sprintf("ℹ️ Hiçbir kullanıcıda '%s' yetkisi yoktu.", args[0])
	}
	return fmt.Sprintf("✅ '%s' yetkisi %d kullanıcıdan alındı.", args[0], changed)
}

func (a *Assistant) cmdUsers() string {
	users := a.licenses.Users()
	if len(users) == 0 {
		return "Kayıtlı kullanıcı yok."
	}
	var sb strings.Builder
	sb.WriteString("👥 *Kullanıcılar*\n\n")
	for _, u := range users {
		state := "🔴"
		if u.Active {
			state = "🟢"
		}
		fmt.Fprintf(&sb, "%s %s (%s)\n   yetkiler: %s | sorgu: %d\n",
			state, u.Name, u.UserID, strings.Join(u.Capabilities, ","), u.UsageCount)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (a *Assistant) cmdStats() string {
	total, active, queries := a.licenses.Stats()
	byOp, today := a.licenses.UsageBreakdown(time.Now().Format("2006-01-02"))

	var sb strings.Builder
	fmt.Fprintf(&sb, `📈 *İstatistikler*
Kullanıcı: %d (%d aktif)
Toplam sorgu: %d (bugün %d)
Aktif oturum (24s): %d
`, total, active, queries, today, a.sessions.ActiveSessions(24*time.Hour))

	if len(byOp) > 0 {
		names := make([]string, 0, len(byOp))
		for op := range byOp {
			names = append(names, op)
		}
		sort.Slice(names, func(i, j int) bool {
			if byOp[names[i]] != byOp[names[j]] {
				return byOp[names[i]] > byOp[names[j]]
			}
			return names[i] < names[j]
		})
		sb.WriteString("\nSorgu dağılımı:\n")
		for _, op := range names {
			fmt.Fprintf(&sb, "• %s: %d\n", op, byOp[op])
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
