package session

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/costar-cli/internal/browser"
)

// BlockType describes why a response is not usable data.
type BlockType string

const (
	BlockNone      BlockType = ""
	BlockLogin     BlockType = "login"
	BlockChallenge BlockType = "challenge"
)

var challengeMarkers = []string{
	"captcha",
	"verify you are human",
	"checking your browser",
	"access denied",
}

// DetectBlock inspects a response for the platform's login page or an
// anti-bot challenge. JSON bodies are never treated as blocks.
func DetectBlock(resp *browser.Response) BlockType {
	if resp == nil {
		return BlockNone
	}
	if resp.Status == 401 {
		return BlockLogin
	}

	body := bytes.TrimSpace([]byte(resp.Body))
	if len(body) == 0 || body[0] == '{' || body[0] == '[' {
		return BlockNone
	}

	lower := strings.ToLower(string(body[:min(len(body), 512)]))
	if !strings.Contains(lower, "<html") && !strings.Contains(lower, "<!doctype") {
		return BlockNone
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return BlockNone
	}

	if doc.Find("#signinform").Length() > 0 || doc.Find(`input[type="password"]`).Length() > 0 {
		return BlockLogin
	}

	if doc.Find(".g-recaptcha, .h-captcha, iframe[src*='captcha']").Length() > 0 {
		return BlockChallenge
	}
	text := strings.ToLower(doc.Find("title").Text() + " " + doc.Find("body").Text())
	for _, m := range challengeMarkers {
		if strings.Contains(text, m) {
			return BlockChallenge
		}
	}

	return BlockNone
}
