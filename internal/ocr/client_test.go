package ocr

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const regionResponse = `{
	"code": 0,
	"data": {
		"region": [
			{"recog": {"content": "solve for x: ifly-latex-begin x^2+1 ifly-latex-end "}},
			{"recog": {"content": " ifly-latex-begin x=\\pm i ifly-latex-end "}}
		]
	}
}`

func newRecognitionServer(t *testing.T, handler func(r *http.Request, body []byte)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}
		if handler != nil {
			handler(r, body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(regionResponse))
	}))
}

func TestRecognizeSignsRequest(t *testing.T) {
	const (
		apiKey    = "test-key"
		apiSecret = "test-secret"
	)
	var (
		gotDate string
		gotBody []byte
		gotAuth string
		gotDig  string
	)
	server := newRecognitionServer(t, func(r *http.Request, body []byte) {
		if r.URL.Path != "/v2/itr" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotDate = r.Header.Get("Date")
		gotAuth = r.Header.Get("Authorization")
		gotDig = r.Header.Get("Digest")
		gotBody = body
	})
	defer server.Close()

	client, err := NewClient(server.URL, "app-1", apiKey, apiSecret)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Recognize(context.Background(), "aW1hZ2U="); err != nil {
		t.Fatalf("recognize: %v", err)
	}

	sum := sha256.Sum256(gotBody)
	wantDigest := "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
	if gotDig != wantDigest {
		t.Fatalf("digest header mismatch:\nwant %s\ngot  %s", wantDigest, gotDig)
	}

	host := strings.TrimPrefix(server.URL, "http://")
	source := "host: " + host + "\n" +
		"date: " + gotDate + "\n" +
		"POST /v2/itr HTTP/1.1\n" +
		"digest: " + wantDigest
	mac := hmac.New(sha256.New, []byte(apiSecret))
	mac.Write([]byte(source))
	wantSig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	wantAuth := fmt.Sprintf(`api_key=%q, algorithm="hmac-sha256", headers="host date request-line digest", signature=%q`,
		apiKey, wantSig)
	if gotAuth != wantAuth {
		t.Fatalf("authorization header mismatch:\nwant %s\ngot  %s", wantAuth, gotAuth)
	}

	var payload struct {
		Common struct {
			AppID string `json:"app_id"`
		} `json:"common"`
		Business struct {
			Ent string `json:"ent"`
			Aue string `json:"aue"`
		} `json:"business"`
		Data struct {
			Image string `json:"image"`
		} `json:"data"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode request payload: %v", err)
	}
	if payload.Common.AppID != "app-1" || payload.Business.Ent != "teach-photo-print" || payload.Data.Image != "aW1hZ2U=" {
		t.Fatalf("unexpected request payload: %s", gotBody)
	}
}

func TestImageToLatexReplacesMarkers(t *testing.T) {
	server := newRecognitionServer(t, nil)
	defer server.Close()

	client, err := NewClient(server.URL, "app-1", "k", "s")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	latex, err := client.ImageToLatex(context.Background(), "aW1hZ2U=")
	if err != nil {
		t.Fatalf("image to latex: %v", err)
	}
	want := `solve for x:$x^2+1$$x=\pm i$`
	if latex != want {
		t.Fatalf("latex mismatch:\nwant %q\ngot  %q", want, latex)
	}
}

func TestRecognizeNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "app-1", "k", "s")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Recognize(context.Background(), "aW1hZ2U="); err == nil {
		t.Fatalf("expected error on 403 response")
	}
}

func TestNewClientRejectsBadBaseURL(t *testing.T) {
	if _, err := NewClient("not a url", "a", "k", "s"); err == nil {
		t.Fatalf("expected error for invalid base url")
	}
}
