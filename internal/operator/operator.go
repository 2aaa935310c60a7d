// Package operator is the terminal-facing side of authentication: the phone
// number prompt for pairing-code login and the display of pairing codes and
// QR payloads.
package operator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"wabot/internal/bus"
	"wabot/internal/domain"
)

// NormalizePhone drops every non-digit character.
func NormalizePhone(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// ValidatePhone normalizes number and checks that it starts with
// countryCode and has a subscriber part after it.
func ValidatePhone(number, countryCode string) (string, error) {
	digits := NormalizePhone(number)
	if digits == "" {
		return "", fmt.Errorf("%w: no digits in %q", domain.ErrInvalidPhone, number)
	}
	if !strings.HasPrefix(digits, countryCode) || len(digits) <= len(countryCode) {
		return "", fmt.Errorf("%w: number must start with %s", domain.ErrInvalidPhone, countryCode)
	}
	return digits, nil
}

// PromptPhone asks for the account's phone number on out and reads one line
// from in. It returns ctx.Err() as soon as ctx is cancelled, even while the
// read is still blocked.
func PromptPhone(ctx context.Context, in io.Reader, out io.Writer, countryCode string) (string, error) {
	fmt.Fprintf(out, "Enter your WhatsApp number, starting with %s:\n", countryCode)
	fmt.Fprint(out, "Phone number: ")

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(out)
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("read phone number: %w", r.err)
		}
		number, err := ValidatePhone(r.line, countryCode)
		if err != nil {
			fmt.Fprintf(out, "The number must start with %s\n", countryCode)
			return "", err
		}
		return number, nil
	}
}

// FormatPairingCode groups an eight character code as XXXX-XXXX.
func FormatPairingCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) == 8 && !strings.Contains(code, "-") {
		return code[:4] + "-" + code[4:]
	}
	return code
}

// Display prints authentication prompts for the operator.
type Display struct {
	mu  sync.Mutex
	out io.Writer
}

func NewDisplay(out io.Writer) *Display {
	return &Display{out: out}
}

func (d *Display) ShowPairingCode(code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintln(d.out, "Your pairing code:")
	fmt.Fprintf(d.out, "  %s\n", FormatPairingCode(code))
	fmt.Fprintln(d.out, "Open WhatsApp > Linked devices > Link with phone number and enter it.")
}

// ShowQR prints the raw QR payload. Render it with any QR tool, or prefer
// pairing-code login on a headless host.
func (d *Display) ShowQR(qr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintln(d.out, "Scan this QR payload from WhatsApp > Linked devices:")
	fmt.Fprintf(d.out, "  %s\n", qr)
}

func (d *Display) ShowLoggedOut(self string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if self != "" {
		fmt.Fprintf(d.out, "Session for %s was logged out.\n", self)
	} else {
		fmt.Fprintln(d.out, "Session was logged out.")
	}
	fmt.Fprintln(d.out, "Stored credentials were cleared. The next run pairs a new session.")
}

// Subscribe routes pairing code, QR and logout events to the display.
func (d *Display) Subscribe(eb *bus.EventBus) {
	eb.On(bus.EventPairingCode, func(e bus.Event) { d.ShowPairingCode(e.Str("code")) })
	eb.On(bus.EventQR, func(e bus.Event) { d.ShowQR(e.Str("qr")) })
	eb.On(bus.EventLoggedOut, func(e bus.Event) { d.ShowLoggedOut(e.Str("self")) })
}
