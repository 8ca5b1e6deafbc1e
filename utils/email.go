package utils

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/smtp"
	"os"
	"runtime/debug"
	"strings"
)

// Mailer sends operator notifications, it does nothing without recipients
type Mailer struct {
	Host       string
	Port       string
	From       string
	Recipients []string
	// RunID identifies the batch run in every message
	RunID string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (m *Mailer) message(subject, body string) []byte {
	header := make(map[string]string)
	header["From"] = m.From
	header["To"] = strings.Join(m.Recipients, ",")
	header["Subject"] = subject
	header["MIME-Version"] = "1.0"
	header["Content-Type"] = "text/plain; charset=\"utf-8\""
	header["Content-Transfer-Encoding"] = "base64"
	message := ""
	for k, v := range header {
		message += fmt.Sprintf("%s: %s\r\n", k, v)
	}

	body = body + "\n\n" + fmt.Sprintf("Run %s with the following command:\n%s", m.RunID, strings.Join(os.Args, " "))
	message += "\r\n" + base64.StdEncoding.EncodeToString([]byte(body))
	return []byte(message)
}

func (m *Mailer) SendEmail(subject, body string) {
	if m == nil || len(m.Recipients) == 0 {
		return
	}

	send := m.send
	if send == nil {
		send = smtp.SendMail
	}
	err := send(m.Host+":"+m.Port, nil, m.From, m.Recipients, m.message(subject, body))
	if err != nil {
		slog.Error(err.Error())
		return
	}
	slog.Info("Email sent successfully!")
}

// send an email and resume the panic
func (m *Mailer) SendEmailOnPanic(function string) {
	if r := recover(); r != nil {
		body := "Buoy importer was unable to finish successfully, and the error was not handled." +
			" This email is sent from a recover function triggered in " +
			function +
			".\n\nError message:" +
			fmt.Sprint(r) +
			"\n\nStack trace:\n\n" +
			string(debug.Stack())
		m.SendEmail("Backyard Buoys importer panicked", body)
		panic(r)
	}
}
