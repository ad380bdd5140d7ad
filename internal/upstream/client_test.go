package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const landingPage = `<!doctype html>
<html><body>
<form>
  <input type="hidden" name="captchaIdentifier" value="cap-123">
  <img id="captcha-image" src="/result/captcha/cap-123.png">
</form>
</body></html>`

func newTestClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	c := NewClient(Config{
		BaseURL:   ts.URL + "/",
		UserAgent: "test-agent",
		Timeout:   2 * time.Second,
	})
	return c, ts
}

func TestFetchCaptcha(t *testing.T) {
	c, ts := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("User-Agent = %q, want test-agent", ua)
		}
		w.Header().Add("Set-Cookie", "JSESSIONID=abc; Path=/; HttpOnly")
		w.Header().Add("Set-Cookie", "route=r1; Secure")
		_, _ = io.WriteString(w, landingPage)
	}))

	captcha, err := c.FetchCaptcha(context.Background())
	if err != nil {
		t.Fatalf("FetchCaptcha failed: %v", err)
	}

	if captcha.Cookie != "JSESSIONID=abc; route=r1" {
		t.Errorf("Cookie = %q", captcha.Cookie)
	}
	if captcha.Identifier != "cap-123" {
		t.Errorf("Identifier = %q", captcha.Identifier)
	}
	if want := ts.URL + "/result/captcha/cap-123.png"; captcha.ImageURL != want {
		t.Errorf("ImageURL = %q, want %q", captcha.ImageURL, want)
	}
}

func TestFetchCaptchaParseFailure(t *testing.T) {
	tests := []struct {
		name string
		page string
	}{
		{"no identifier", `<img id="captcha-image" src="/x.png">`},
		{"no image", `<input name="captchaIdentifier" value="cap">`},
		{"empty identifier", `<input name="captchaIdentifier" value=""><img id="captcha-image" src="/x.png">`},
		{"not html", `{"success":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.page)
			}))

			_, err := c.FetchCaptcha(context.Background())
			if !errors.Is(err, ErrParse) {
				t.Errorf("expected ErrParse, got %v", err)
			}
		})
	}
}

func TestFetchCaptchaUpstreamError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))

	_, err := c.FetchCaptcha(context.Background())
	if !errors.Is(err, ErrStatus) {
		t.Errorf("expected ErrStatus, got %v", err)
	}
}

func TestCheckCaptcha(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/result/result/check" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if cookie := r.Header.Get("Cookie"); cookie != "JSESSIONID=abc" {
			t.Errorf("Cookie = %q", cookie)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["companyShareId"] != float64(42) {
			t.Errorf("companyShareId = %#v, want number 42", body["companyShareId"])
		}
		if body["boid"] != "1301120000000001" || body["captchaIdentifier"] != "cap-123" || body["usercaptcha"] != "12345" {
			t.Errorf("unexpected body %v", body)
		}

		_, _ = io.WriteString(w, `{"success":true,"message":"Congratulations! Alloted : 10"}`)
	}))

	reply, err := c.CheckCaptcha(context.Background(), "JSESSIONID=abc",
		NewCaptchaCheck(Number("42"), Text("1301120000000001"), "cap-123", Text("12345")))
	if err != nil {
		t.Fatalf("CheckCaptcha failed: %v", err)
	}
	if !reply.Success || !strings.Contains(reply.Message, "Congratulations") {
		t.Errorf("unexpected reply %+v", reply)
	}
}

func TestCheckCaptchaRejectedOnErrorStatus(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"success":false,"message":"Invalid Captcha Provided"}`)
	}))

	reply, err := c.CheckCaptcha(context.Background(), "", NewCaptchaCheck(Text("1"), Text("b"), "c", Text("u")))
	if err != nil {
		t.Fatalf("expected JSON rejection to decode, got %v", err)
	}
	if reply.Success || reply.Message != "Invalid Captcha Provided" {
		t.Errorf("unexpected reply %+v", reply)
	}
}

func TestCheckCaptchaErrors(t *testing.T) {
	t.Run("non-json error status", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}))
		_, err := c.CheckCaptcha(context.Background(), "", NewCaptchaCheck(Text("1"), Text("b"), "c", Text("u")))
		if !errors.Is(err, ErrStatus) {
			t.Errorf("expected ErrStatus, got %v", err)
		}
	})

	t.Run("non-json ok status", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "<html>oops</html>")
		}))
		_, err := c.CheckCaptcha(context.Background(), "", NewCaptchaCheck(Text("1"), Text("b"), "c", Text("u")))
		if err == nil || !strings.Contains(err.Error(), "decode") {
			t.Errorf("expected decode error, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		t.Cleanup(ts.Close)

		c := NewClient(Config{BaseURL: ts.URL, UserAgent: "ua", Timeout: 20 * time.Millisecond})
		_, err := c.CheckCaptcha(context.Background(), "", NewCaptchaCheck(Text("1"), Text("b"), "c", Text("u")))
		if err == nil {
			t.Error("expected timeout error")
		}
	})
}

func TestCheckForm(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("boid") != "B1" || r.PostForm.Get("companyShareId") != "C1" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		_, _ = io.WriteString(w, "<p>Sorry, not allotted for the entered BOID.</p>")
	}))

	text, err := c.CheckForm(context.Background(), "C1", "B1")
	if err != nil {
		t.Fatalf("CheckForm failed: %v", err)
	}
	if !strings.Contains(text, "not allotted") {
		t.Errorf("unexpected text %q", text)
	}
}

func TestCheckFormErrorStatus(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.CheckForm(context.Background(), "C1", "B1")
	if !errors.Is(err, ErrStatus) {
		t.Errorf("expected ErrStatus, got %v", err)
	}
}

func TestPacingLimiter(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, "not allotted")
	}))
	t.Cleanup(ts.Close)

	c := NewClient(Config{BaseURL: ts.URL, UserAgent: "ua", Timeout: time.Second, RPS: 0.001, Burst: 1})

	if _, err := c.CheckForm(context.Background(), "C1", "B1"); err != nil {
		t.Fatalf("first call should use the burst: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.CheckForm(ctx, "C1", "B2"); err == nil {
		t.Error("expected second call to fail waiting for the limiter")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream saw %d calls, want 1", got)
	}
}

func TestJoinCookies(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"a=1"}, "a=1"},
		{[]string{"a=1; Path=/", " b=2 ;HttpOnly", ""}, "a=1; b=2"},
	}
	for _, tt := range tests {
		if got := joinCookies(tt.in); got != tt.want {
			t.Errorf("joinCookies(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScalarEncoding(t *testing.T) {
	tests := []struct {
		in   Scalar
		want string
	}{
		{Number("42"), `42`},
		{Text("42"), `"42"`},
		{Text("007"), `"007"`},
		{Number("1.5"), `1.5`},
		{Number("not-a-number"), `"not-a-number"`},
		{Text(""), `""`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != tt.want {
			t.Errorf("%+v encoded as %s, want %s", tt.in, b, tt.want)
		}
	}
}

func TestCaptchaCheckKeepsClientTypes(t *testing.T) {
	b, err := json.Marshal(NewCaptchaCheck(Text("171"), Number("1301120000000001"), "cap-1", Number("12345")))
	if err != nil {
		t.Fatal(err)
	}

	want := `{"companyShareId":"171","boid":1301120000000001,"captchaIdentifier":"cap-1","usercaptcha":12345}`
	if string(b) != want {
		t.Errorf("payload = %s, want %s", b, want)
	}
}

func TestAbsoluteURL(t *testing.T) {
	c := NewClient(Config{BaseURL: "https://iporesult.example.com/"})
	if got := c.absoluteURL("captcha.png"); got != "https://iporesult.example.com/captcha.png" {
		t.Errorf("relative path: %s", got)
	}
	if got := c.absoluteURL("https://cdn.example.com/c.png"); got != "https://cdn.example.com/c.png" {
		t.Errorf("absolute path: %s", got)
	}
}
