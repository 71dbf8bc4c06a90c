package scrape

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// Block is the verdict on one fetched page. Signal names the header or marker
// that triggered it.
type Block struct {
	Type   BlockType
	Signal string
}

// Blocked reports whether the page was an anti-bot or challenge page.
func (b Block) Blocked() bool { return b.Type != BlockNone }

func (b Block) String() string {
	if !b.Blocked() {
		return "none"
	}
	return string(b.Type) + ": " + b.Signal
}

// shellBodyLimit is the size below which a page may be a script-only shell.
const shellBodyLimit = 2000

// bodyRule flags a page whose lowercased body contains every marker in all.
type bodyRule struct {
	kind      BlockType
	all       []string
	smallOnly bool
}

var bodyRules = []bodyRule{
	{kind: BlockCloudflare, all: []string{"checking your browser"}},
	{kind: BlockCloudflare, all: []string{"cf-browser-verification"}},
	{kind: BlockCloudflare, all: []string{"cloudflare", "challenge"}},
	{kind: BlockCaptcha, all: []string{"captcha"}},
	{kind: BlockJSShell, all: []string{"<noscript", "javascript"}, smallOnly: true},
	{kind: BlockJSShell, all: []string{`meta http-equiv="refresh"`}, smallOnly: true},
}

// DetectBlock checks an HTTP response for signs of anti-bot protection.
// Header checks run first, then body rules in order.
func DetectBlock(resp *http.Response, body []byte) Block {
	if resp == nil {
		return Block{}
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		for _, h := range []string{"cf-ray", "cf-cache-status"} {
			if resp.Header.Get(h) != "" {
				return Block{Type: BlockCloudflare, Signal: h + " header"}
			}
		}
		if strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return Block{Type: BlockCloudflare, Signal: "server header"}
		}
	}

	lower := strings.ToLower(string(body))
	for _, r := range bodyRules {
		if r.smallOnly && len(body) >= shellBodyLimit {
			continue
		}
		if containsAll(lower, r.all) {
			return Block{Type: r.kind, Signal: strings.Join(r.all, "+")}
		}
	}
	return Block{}
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
