// ABOUTME: Recovery e-mail content sent to principals who request a password reset
// ABOUTME: Spanish subject and Markdown body for the Huerto Hogar storefront

package account

import (
	"fmt"

	"github.com/2389/huerto-gateway/internal/notify"
	"github.com/2389/huerto-gateway/internal/store"
)

const recoverySubject = "Código de recuperación de contraseña - Huerto Hogar"

// RecoveryMessage builds the recovery e-mail for p carrying code.
func RecoveryMessage(p *store.Principal, code string) notify.Message {
	name := p.DisplayName
	if name == "" {
		name = p.Email
	}
	return notify.Message{
		To:      p.Email,
		Subject: recoverySubject,
		Body: fmt.Sprintf("Hola %s,\n\nTu código de recuperación de contraseña es: **%s**\n\nHuerto Hogar 🌱\n",
			name, code),
	}
}
