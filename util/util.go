package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"html"
	"regexp"
	"strings"
)

//go:embed version.txt
var embeddedVersion string

var markdownLink = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

type RsaKeyPair struct {
	Private string
	Public  string
}

// HashURI returns the hex SHA-256 of s. Used for deterministic activity ids
// and for the unique hash indexes over URIs.
func HashURI(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s/%s", Name, GetVersion())
}

// RandomString returns length hex characters from crypto/rand.
func RandomString(length int) string {
	b := make([]byte, (length+1)/2)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)[:length]
}

func NormalizeInput(text string) string {
	normalized := strings.ReplaceAll(text, "\n", " ")
	normalized = html.EscapeString(normalized)
	return normalized
}

func PrettyPrint(i any) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}

// GeneratePemKeypair generates an RSA keypair in PKCS#1 (private) and PKIX
// (public) PEM encoding, the format remote servers expect in publicKeyPem.
func GeneratePemKeypair(bitSize int) (*RsaKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		return nil, err
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		},
	)

	pubPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: pubBytes,
		},
	)

	return &RsaKeyPair{Private: string(keyPEM), Public: string(pubPEM)}, nil
}

// MarkdownLinksToHTML converts Markdown links [text](url) to HTML <a> tags
func MarkdownLinksToHTML(text string) string {
	return markdownLink.ReplaceAllStringFunc(text, func(match string) string {
		matches := markdownLink.FindStringSubmatch(match)
		if len(matches) == 3 {
			linkText := html.EscapeString(matches[1])
			linkURL := html.EscapeString(matches[2])
			return fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener noreferrer">%s</a>`, linkURL, linkText)
		}
		return match
	})
}

// NoteContentToHTML turns plain note text into the HTML carried in a Note's
// content. Markdown links are kept as links, everything else is escaped.
func NoteContentToHTML(text string) string {
	var b strings.Builder
	last := 0
	for _, loc := range markdownLink.FindAllStringIndex(text, -1) {
		b.WriteString(NormalizeInput(text[last:loc[0]]))
		b.WriteString(MarkdownLinksToHTML(text[loc[0]:loc[1]]))
		last = loc[1]
	}
	b.WriteString(NormalizeInput(text[last:]))
	return "<p>" + b.String() + "</p>"
}
