package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"net/url"
	"os"
	"strings"
	"time"
)

type template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type revision struct {
	ID             string `json:"id"`
	RevisionNumber int64  `json:"revisionNumber"`
}

type mailList struct {
	FilterUsed map[string]any `json:"filterUsed"`
	Data       []struct {
		ID      string `json:"id"`
		From    string `json:"from"`
		Subject string `json:"subject"`
	} `json:"data"`
}

func main() {
	baseURL := getenvDefault("MAILCAT_URL", "http://localhost:3025")
	smtpAddr := getenvDefault("MAILCAT_SMTP", "localhost:2025")
	smtpUser := getenvDefault("SMTP_USERNAME", "mailcat")
	smtpPass := getenvDefault("SMTP_PASSWORD", "mailcat")

	client := &http.Client{Timeout: 10 * time.Second}
	recipient := "ada@mailcat.dev"

	fmt.Println("Sending over SMTP to", recipient)
	sendSMTP(smtpAddr, smtpUser, smtpPass, "sender@mailcat.dev", []string{recipient},
		buildTestMessage("SMTP - HTML + Text", recipient))

	fmt.Println("Creating template")
	var created template
	postJSON(client, baseURL+"/api/templates", map[string]string{
		"name":        "welcome",
		"description": "greets new users",
	}, &created)

	for i := 1; i <= 2; i++ {
		var rev revision
		postJSON(client, baseURL+"/api/templates/"+created.ID+"/revisions", map[string]any{
			"subjectTemplate":     fmt.Sprintf("Welcome, {{name}} (v%d)", i),
			"bodyTemplate":        "Hello {{name}}, thanks for joining.",
			"defaultFrom":         "hello@mailcat.dev",
			"defaultToRecipients": []string{recipient},
		}, &rev)
		fmt.Printf("- revision %d id=%s\n", rev.RevisionNumber, rev.ID)
	}

	fmt.Println("Sending via template")
	postJSON(client, baseURL+"/api/templates/"+created.ID+"/send", map[string]any{
		"data": map[string]string{"name": "Ada"},
	}, nil)

	fmt.Println("Mail for", recipient)
	var list mailList
	getJSON(client, baseURL+"/api/mail?toEmail="+url.QueryEscape(recipient)+"&limit=10", &list)
	for _, m := range list.Data {
		fmt.Printf("- %s from=%s subject=%q\n", m.ID, m.From, m.Subject)
	}
}

func sendSMTP(addr, username, password, from string, to []string, msg []byte) {
	var auth smtp.Auth
	if username != "" || password != "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		auth = smtp.PlainAuth("", username, password, host)
	}
	if err := smtp.SendMail(addr, auth, from, to, msg); err != nil {
		fmt.Fprintln(os.Stderr, "smtp error:", err)
	}
}

func buildTestMessage(subject, recipients string) []byte {
	boundary := fmt.Sprintf("mailcat-%d", time.Now().UnixNano())
	text := "Hello!\n\nThis message was delivered to MailCat over SMTP.\n\nRecipients: " + recipients + "\n"
	html := "<html><body><h2>MailCat SMTP test</h2><p><strong>Recipients:</strong> " + recipients + "</p></body></html>"
	headers := []string{
		"From: sender@mailcat.dev",
		"To: " + recipients,
		"Subject: " + subject,
		"Date: " + time.Now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=" + boundary,
		"",
		"--" + boundary,
		"Content-Type: text/plain; charset=utf-8",
		"",
		text,
		"--" + boundary,
		"Content-Type: text/html; charset=utf-8",
		"",
		html,
		"--" + boundary + "--",
		"",
	}
	return []byte(strings.Join(headers, "\r\n"))
}

func postJSON(client *http.Client, url string, payload, out any) {
	body, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	resp := mustDo(client, http.MethodPost, url, bytes.NewReader(body))
	defer resp.Body.Close()
	if out != nil {
		mustDecode(resp.Body, out)
	}
}

func getJSON(client *http.Client, url string, out any) {
	resp := mustDo(client, http.MethodGet, url, nil)
	defer resp.Body.Close()
	mustDecode(resp.Body, out)
}

func mustDo(client *http.Client, method, url string, body io.Reader) *http.Response {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		panic(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		panic(err)
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		panic(fmt.Sprintf("request failed: %s %s: %s", method, url, string(b)))
	}
	return resp
}

func mustDecode(r io.Reader, v any) {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		panic(err)
	}
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
