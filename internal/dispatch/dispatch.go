// Package dispatch delivers notifications of one source in order, appending
// the configured footer and pacing sends.
package dispatch

import (
	"context"
	"strings"
	"time"

	"automatex/internal/source"
	"automatex/internal/telegram"
	"automatex/pkg/logx"

	"golang.org/x/time/rate"
)

// Deliverer sends one fully rendered MarkdownV2 message.
type Deliverer interface {
	Send(ctx context.Context, text string) error
}

// Footer is appended to every message of a source.
type Footer struct {
	SupportURL string
	Disclaimer string
}

const separator = "--------------------"

// Compose appends the footer to body. Nothing is appended when both footer
// fields are empty.
func Compose(body string, f Footer) string {
	url := strings.TrimSpace(f.SupportURL)
	if url == "" && f.Disclaimer == "" {
		return body
	}
	var b strings.Builder
	b.Grow(len(body) + len(url) + len(f.Disclaimer) + 96)
	b.WriteString(body)
	b.WriteString("\n\n")
	b.WriteString(telegram.EscapeMarkdown(separator))
	if url != "" {
		b.WriteString("\n\n*Like this service?*\n[Buy Me a Coffee ☕](")
		b.WriteString(telegram.EscapeLinkURL(url))
		b.WriteString(")")
	}
	if f.Disclaimer != "" {
		b.WriteString("\n\n")
		b.WriteString(f.Disclaimer)
	}
	return b.String()
}

// Failure is one notification that could not be delivered.
type Failure struct {
	ID  string
	Err error
}

// Report summarizes one Dispatch call.
type Report struct {
	Sent     int
	Failed   []Failure
	Canceled int // items not attempted because ctx ended
}

// Dispatcher delivers the notifications of one source. Sends are spaced by at
// least the configured pace, across calls too.
type Dispatcher struct {
	out     Deliverer
	footer  Footer
	limiter *rate.Limiter
	log     logx.Logger
}

func New(out Deliverer, footer Footer, pace time.Duration, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if pace > 0 {
		lim = rate.NewLimiter(rate.Every(pace), 1)
	}
	return &Dispatcher{out: out, footer: footer, limiter: lim, log: log}
}

// Dispatch sends items in order. A failed send is logged with the item id and
// the remaining items are still attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, items []source.Notification) Report {
	var rep Report
	for i, n := range items {
		if err := d.limiter.Wait(ctx); err != nil {
			rep.Canceled = len(items) - i
			d.log.Warn("dispatch interrupted", logx.Int("remaining", rep.Canceled), logx.Err(err))
			return rep
		}
		text := Compose(n.Message(), d.footer)
		if err := d.out.Send(ctx, text); err != nil {
			rep.Failed = append(rep.Failed, Failure{ID: n.ID(), Err: err})
			d.log.Error("failed to send notification", logx.String("id", n.ID()), logx.Err(err))
			continue
		}
		rep.Sent++
		d.log.Info("notification sent", logx.String("id", n.ID()))
	}
	return rep
}
