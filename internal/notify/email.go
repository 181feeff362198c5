package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"autodelta/internal/config"
	"autodelta/internal/logbus"
	"autodelta/internal/model"
)

// SettingsSource provides the runtime-editable mail settings.
type SettingsSource interface {
	GetEmailSettings(ctx context.Context) (model.EmailSettings, bool, error)
	GetNotifySettings(ctx context.Context) (model.NotifySettings, bool, error)
}

// SendFunc delivers one summary mail.
type SendFunc func(ctx context.Context, settings model.EmailSettings, cfg config.NotifyConfig, events []Event) error

type Options struct {
	Settings SettingsSource
	Bus      *logbus.Bus
	Config   config.NotifyConfig
	// Send replaces SMTP delivery; used by tests.
	Send SendFunc
}

// EmailNotifier batches events for SummaryWindow and mails them as a single
// summary, so a burst of aborted rounds produces one mail.
type EmailNotifier struct {
	settings SettingsSource
	bus      *logbus.Bus
	cfg      config.NotifyConfig
	send     SendFunc

	mu     sync.Mutex
	queue  chan Event
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	maxBatch int
}

func NewEmailNotifier(opts Options) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	send := opts.Send
	if send == nil {
		send = SendSummaryEmail
	}
	n := &EmailNotifier{
		settings: opts.Settings,
		bus:      opts.Bus,
		cfg:      opts.Config,
		send:     send,
		queue:    make(chan Event, 200),
		ctx:      ctx,
		cancel:   cancel,
		maxBatch: 50,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// Close flushes pending events and stops the sender.
func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) Notify(_ context.Context, evt Event) {
	if evt.AtMs == 0 {
		evt.AtMs = time.Now().UnixMilli()
	}
	select {
	case n.queue <- evt:
	default:
		n.log("warn", "邮件通知丢弃：队列已满", map[string]any{"kind": string(evt.Kind), "round": evt.Round})
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()

	window := n.cfg.SummaryWindow()
	var (
		pending []Event
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerCh = nil, nil
	}

	flush := func(reason string) {
		stopTimer()
		if len(pending) == 0 {
			return
		}
		events := append([]Event(nil), pending...)
		pending = pending[:0]
		n.handleBatch(reason, events)
	}

	for {
		select {
		case <-n.ctx.Done():
		drain:
			for {
				select {
				case evt := <-n.queue:
					pending = append(pending, evt)
				default:
					break drain
				}
			}
			flush("shutdown")
			return
		case evt := <-n.queue:
			pending = append(pending, evt)
			if len(pending) >= n.maxBatch {
				flush("max")
				continue
			}
			if window <= 0 {
				flush("immediate")
				continue
			}
			if timer == nil {
				timer = time.NewTimer(window)
				timerCh = timer.C
			}
		case <-timerCh:
			timer, timerCh = nil, nil
			flush("window")
		}
	}
}

func (n *EmailNotifier) handleBatch(reason string, events []Event) {
	if n.settings == nil {
		return
	}
	// Sending must survive the shutdown flush.
	ctx := context.WithoutCancel(n.ctx)

	settings, ok, err := n.settings.GetEmailSettings(ctx)
	if err != nil {
		n.log("warn", "读取邮件配置失败", map[string]any{"error": err.Error()})
		return
	}
	if !ok || !settings.Enabled {
		n.log("debug", "邮件通知未启用", map[string]any{"count": len(events), "reason": reason})
		return
	}
	if err := validateEmailSettings(settings); err != nil {
		n.log("warn", "邮件配置无效", map[string]any{"error": err.Error()})
		return
	}

	prefs, _, err := n.settings.GetNotifySettings(ctx)
	if err != nil {
		n.log("warn", "读取通知配置失败", map[string]any{"error": err.Error()})
	}
	events = filterEvents(events, prefs)
	if len(events) == 0 {
		return
	}

	if err := n.send(ctx, settings, n.cfg, events); err != nil {
		n.log("warn", "邮件发送失败", map[string]any{"error": err.Error(), "count": len(events), "reason": reason})
		return
	}
	n.log("info", "通知邮件已发送", map[string]any{"count": len(events), "reason": reason, "to": settings.Email})
}

// filterEvents drops escalation events unless they were asked for.
func filterEvents(events []Event, prefs model.NotifySettings) []Event {
	out := events[:0:0]
	for _, evt := range events {
		if evt.Escalation() && !prefs.OnEscalation {
			continue
		}
		out = append(out, evt)
	}
	return out
}

func (n *EmailNotifier) log(level, msg string, fields map[string]any) {
	if n.bus != nil {
		n.bus.Log(level, msg, fields)
	}
}

func validateEmailSettings(s model.EmailSettings) error {
	email := strings.TrimSpace(s.Email)
	if email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("invalid email")
	}
	if strings.TrimSpace(s.AuthCode) == "" {
		return errors.New("authCode is required")
	}
	return nil
}

// SendSummaryEmail mails events to the configured mailbox, authenticating as
// that same mailbox.
func SendSummaryEmail(ctx context.Context, settings model.EmailSettings, cfg config.NotifyConfig, events []Event) error {
	if err := validateEmailSettings(settings); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return errors.New("no events")
	}

	email := strings.TrimSpace(settings.Email)
	host, port, useSSL, err := smtpServer(email, cfg)
	if err != nil {
		return err
	}
	htmlBody, textBody, err := buildSummaryBody(events)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(email, cfg.From))
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", buildSubject(events))
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)

	d := gomail.NewDialer(host, port, email, strings.TrimSpace(settings.AuthCode))
	d.SSL = useSSL
	return d.DialAndSend(msg)
}

func smtpServer(email string, cfg config.NotifyConfig) (host string, port int, useSSL bool, err error) {
	if cfg.SMTPHost != "" {
		return cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPPort == 465, nil
	}
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return "", 0, false, errors.New("invalid email format")
	}
	domain := strings.ToLower(strings.TrimSpace(parts[1]))
	is := func(d string) bool { return domain == d || strings.HasSuffix(domain, "."+d) }

	switch {
	case is("qq.com") || is("foxmail.com"):
		return "smtp.qq.com", 465, true, nil
	case is("163.com") || is("126.com") || is("yeah.net"):
		return "smtp.163.com", 465, true, nil
	case is("gmail.com"):
		return "smtp.gmail.com", 587, false, nil
	case is("outlook.com") || is("hotmail.com") || is("live.com"):
		return "smtp.office365.com", 587, false, nil
	default:
		return "smtp." + domain, 465, true, nil
	}
}

func buildSubject(events []Event) string {
	done, aborted := 0, 0
	for _, evt := range events {
		if evt.Escalation() {
			aborted++
		} else {
			done++
		}
	}
	switch {
	case aborted == 0:
		return fmt.Sprintf("采购完成（%d项）", done)
	case done == 0:
		return fmt.Sprintf("运行异常（%d次）", aborted)
	default:
		return fmt.Sprintf("运行汇总：完成 %d，异常 %d", done, aborted)
	}
}

var summaryHTMLTpl = template.Must(template.New("summary").Parse(`
<!doctype html>
<html lang="zh-CN">
  <head><meta charset="utf-8" /><title>运行汇总</title></head>
  <body style="margin:0;padding:24px;background:#f6f8fb;font-family:-apple-system,'Segoe UI',Roboto,'PingFang SC','Microsoft YaHei',sans-serif;">
    <div style="max-width:720px;margin:0 auto;background:#ffffff;border:1px solid #e6e8ef;border-radius:14px;overflow:hidden;">
      <div style="padding:18px 22px;background:linear-gradient(135deg,#0ea5e9,#6366f1);color:#ffffff;font-size:16px;font-weight:700;">运行汇总</div>
      <div style="padding:22px;">
        <div style="font-size:14px;color:#111827;">共 <strong>{{ .Total }}</strong> 条，时间范围：{{ .Start }} ~ {{ .End }}</div>
        <table role="presentation" cellspacing="0" cellpadding="0" border="0" style="margin-top:12px;width:100%;border-collapse:collapse;">
          <thead>
            <tr style="background:#fafbff;">
              <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;">时间</th>
              <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;">事件</th>
              <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;">轮次</th>
              <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;">详情</th>
            </tr>
          </thead>
          <tbody>
            {{ range .Rows }}
            <tr>
              <td style="padding:10px 12px;font-size:12px;color:#111827;border-top:1px solid #eef0f6;">{{ .At }}</td>
              <td style="padding:10px 12px;font-size:12px;color:#111827;border-top:1px solid #eef0f6;">{{ .Kind }}</td>
              <td style="padding:10px 12px;font-size:12px;color:#111827;border-top:1px solid #eef0f6;">{{ .Round }}</td>
              <td style="padding:10px 12px;font-size:12px;color:#111827;border-top:1px solid #eef0f6;">{{ .Detail }}</td>
            </tr>
            {{ end }}
          </tbody>
        </table>
        <div style="margin-top:14px;color:#9ca3af;font-size:12px;">此邮件由系统自动发送</div>
      </div>
    </div>
  </body>
</html>
`))

type summaryRow struct {
	At     string
	Kind   string
	Round  string
	Detail string
}

func kindLabel(k EventKind) string {
	switch k {
	case EventAcquisitionDone:
		return "采购完成"
	case EventRoundAborted:
		return "回合中止"
	case EventRecoveryFailed:
		return "恢复失败"
	default:
		return string(k)
	}
}

func eventDetail(evt Event) string {
	switch evt.Kind {
	case EventAcquisitionDone:
		return fmt.Sprintf("%s %d/%d，花费 %d", evt.Item, evt.Purchased, evt.Goal, evt.Spent)
	default:
		detail := evt.Outcome
		if evt.Message != "" {
			if detail != "" {
				detail += "："
			}
			detail += evt.Message
		}
		return detail
	}
}

func buildSummaryBody(events []Event) (htmlBody string, textBody string, err error) {
	if len(events) == 0 {
		return "", "", errors.New("no events")
	}

	rows := make([]summaryRow, 0, len(events))
	var minAt, maxAt time.Time
	for i, evt := range events {
		at := time.UnixMilli(evt.AtMs)
		if i == 0 || at.Before(minAt) {
			minAt = at
		}
		if i == 0 || at.After(maxAt) {
			maxAt = at
		}
		round := "-"
		if evt.Round > 0 {
			round = strconv.Itoa(evt.Round)
		}
		rows = append(rows, summaryRow{
			At:     at.Format("2006-01-02 15:04:05"),
			Kind:   kindLabel(evt.Kind),
			Round:  round,
			Detail: eventDetail(evt),
		})
	}

	data := struct {
		Total int
		Start string
		End   string
		Rows  []summaryRow
	}{
		Total: len(events),
		Start: minAt.Format("2006-01-02 15:04:05"),
		End:   maxAt.Format("2006-01-02 15:04:05"),
		Rows:  rows,
	}

	var buf bytes.Buffer
	if err := summaryHTMLTpl.Execute(&buf, data); err != nil {
		return "", "", err
	}

	text := new(strings.Builder)
	fmt.Fprintf(text, "运行汇总\n共 %d 条，时间范围：%s ~ %s\n", len(events), data.Start, data.End)
	for _, row := range rows {
		fmt.Fprintf(text, "- %s | %s | 轮次 %s | %s\n", row.At, row.Kind, row.Round, row.Detail)
	}
	return buf.String(), text.String(), nil
}
