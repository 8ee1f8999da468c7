package messages

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// MessageText is a notification title and body. Both may hold fmt verbs.
type MessageText struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Format fills the title and body with args. Verbs missing from a template are
// ignored, so a title without verbs stays unchanged.
func (m MessageText) Format(args ...any) (string, string) {
	return fill(m.Title, args), fill(m.Body, args)
}

func fill(template string, args []any) string {
	n := strings.Count(template, "%") - 2*strings.Count(template, "%%")
	if n <= 0 {
		return template
	}
	if n > len(args) {
		n = len(args)
	}
	return fmt.Sprintf(template, args[:n]...)
}

type Messages struct {
	SyncComplete    MessageText `json:"sync_complete"`
	ConnectionError MessageText `json:"connection_error"`
}

// Default returns the built-in texts, used when no messages file is configured.
func Default() *Messages {
	return &Messages{
		SyncComplete: MessageText{
			Title: "Novas transações",
			Body:  "%s: %d novas transações sincronizadas.",
		},
		ConnectionError: MessageText{
			Title: "Conexão bancária com problema",
			Body:  "Não foi possível sincronizar %s. Reconecte sua conta para continuar.",
		},
	}
}

var (
	loaded   Messages
	loadOnce sync.Once
	loadErr  error
)

// Load reads the notifications JSON file and caches the result.
// Safe to call from multiple goroutines.
func Load(path string) (*Messages, error) {
	loadOnce.Do(func() {
		data, err := os.ReadFile(path)
		if err != nil {
			loadErr = fmt.Errorf("failed to read messages file: %w", err)
			return
		}
		loaded = *Default()
		if err := json.Unmarshal(data, &loaded); err != nil {
			loadErr = fmt.Errorf("failed to parse messages file: %w", err)
		}
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return &loaded, nil
}
