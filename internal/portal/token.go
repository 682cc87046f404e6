package portal

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// The restore token lets the portal skip the source-selection dialog on
// subsequent sessions when persist_mode allows it.

func defaultTokenPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.Getenv("HOME")
	}
	return filepath.Join(configDir, "novarec", "portal_token")
}

func (n *Negotiator) loadRestoreToken() {
	data, err := os.ReadFile(n.tokenPath)
	if err != nil {
		return
	}

	var token struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &token); err != nil {
		return
	}
	n.restoreToken = token.Token
}

func (n *Negotiator) saveRestoreToken() {
	if n.restoreToken == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(n.tokenPath), 0755); err != nil {
		return
	}

	token := struct {
		Token string `json:"token"`
	}{Token: n.restoreToken}

	data, err := json.Marshal(token)
	if err != nil {
		return
	}

	os.WriteFile(n.tokenPath, data, 0600)
}
