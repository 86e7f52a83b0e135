package push

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"html"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/lysyi3m/webmoniter/app/config"
)

var htmlText = bluemonday.StrictPolicy()

// sanitizeText strips markup from upstream text before it is embedded in an
// HTML body, then escapes what is left.
func sanitizeText(s string) string {
	return html.EscapeString(html.UnescapeString(htmlText.Sanitize(s)))
}

// email sends an HTML message over SMTP. Port 465 uses implicit TLS; other
// ports upgrade with STARTTLS when smtp_tls is set.
type email struct {
	base
	host     string
	port     int
	startTLS bool
	sender   string
	password string
	to       []string
	dial     func(ctx context.Context, addr string, implicitTLS bool) (net.Conn, error)
}

func newEmail(def config.Channel, b base) (Channel, error) {
	if err := missing(def, "smtp_host", "sender_email", "sender_password", "receiver_email"); err != nil {
		return nil, err
	}
	return &email{
		base:     b,
		host:     def.String("smtp_host"),
		port:     def.Int("smtp_port", 465),
		startTLS: def.Bool("smtp_tls", false),
		sender:   def.String("sender_email"),
		password: def.String("sender_password"),
		to:       def.List("receiver_email"),
		dial:     dialSMTP,
	}, nil
}

func dialSMTP(ctx context.Context, addr string, implicitTLS bool) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 15 * time.Second}
	if implicitTLS {
		host, _, _ := net.SplitHostPort(addr)
		return (&tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: host}}).DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

func emailBody(msg Message) string {
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(sanitizeText(msg.Content), "\n", "<br>"))
	if msg.URL != "" {
		fmt.Fprintf(&b, `<br><a href="%s">点击查看详情</a>`, html.EscapeString(msg.URL))
	}
	if msg.PicURL != "" {
		fmt.Fprintf(&b, `<br><img src="%s">`, html.EscapeString(msg.PicURL))
	}
	return b.String()
}

func (c *email) compose(msg Message) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", c.sender)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(c.to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.BEncoding.Encode("utf-8", msg.Title))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(emailBody(msg)))
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76] + "\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded + "\r\n")
	return buf.Bytes()
}

func (c *email) Push(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	conn, err := c.dial(ctx, addr, c.port == 465)
	if err != nil {
		return c.fail("failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, c.host)
	if err != nil {
		conn.Close()
		return c.fail("smtp handshake failed: %w", err)
	}
	defer client.Close()

	if c.startTLS && c.port != 465 {
		if err := client.StartTLS(&tls.Config{ServerName: c.host}); err != nil {
			return c.fail("starttls failed: %w", err)
		}
	}
	if ok, _ := client.Extension("AUTH"); ok {
		if err := client.Auth(smtp.PlainAuth("", c.sender, c.password, c.host)); err != nil {
			return c.fail("smtp auth failed: %w", err)
		}
	}
	if err := client.Mail(c.sender); err != nil {
		return c.fail("MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range c.to {
		if err := client.Rcpt(rcpt); err != nil {
			return c.fail("RCPT TO %s rejected: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return c.fail("DATA rejected: %w", err)
	}
	if _, err := w.Write(c.compose(msg)); err != nil {
		return c.fail("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return c.fail("message rejected: %w", err)
	}
	return client.Quit()
}
