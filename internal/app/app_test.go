package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"studiumai/internal/mail"
	"studiumai/internal/storage"
	"studiumai/internal/store"
	"studiumai/internal/validation"
	"studiumai/pkg/auth"
	"studiumai/pkg/domain"
)

type stubGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (g *stubGenerator) GenerateText(_ context.Context, _, userPrompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, userPrompt)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *stubGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

// stepClock advances one second per reading so ordering by time is stable.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	app    *App
	store  *store.MemoryStore
	blobs  *storage.FileStore
	gen    *stubGenerator
	mailer *captureMailer
	clock  *stepClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	blobs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	tokens, err := auth.NewTokenManager(auth.TokenConfig{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	env := &testEnv{
		store:  store.NewMemoryStore(),
		blobs:  blobs,
		gen:    &stubGenerator{reply: "the answer"},
		mailer: &captureMailer{},
		clock:  &stepClock{now: time.Now().UTC()},
	}
	env.app, err = New(Config{
		Store:       env.store,
		Blobs:       blobs,
		Tokens:      tokens,
		Generator:   env.gen,
		Mailer:      env.mailer,
		FrontendURL: "https://app.studium.test",
		Now:         env.clock.Now,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return env
}

func (e *testEnv) signup(t *testing.T, email string) (domain.User, string) {
	t.Helper()
	user, token, err := e.app.Signup(context.Background(), SignupInput{Email: email, Password: "secret1"})
	if err != nil {
		t.Fatalf("signup %s: %v", email, err)
	}
	return user, token
}

func (e *testEnv) notebook(t *testing.T, user domain.User) domain.Notebook {
	t.Helper()
	nb, err := e.app.CreateNotebook(context.Background(), user, CreateNotebookInput{Title: "Biology", Content: "notes"})
	if err != nil {
		t.Fatalf("create notebook: %v", err)
	}
	return nb
}

func (e *testEnv) upload(t *testing.T, user domain.User, nbID, name, contentType, body string) domain.Source {
	t.Helper()
	src, err := e.app.UploadSource(context.Background(), user, nbID, &Upload{
		FileName:    name,
		ContentType: contentType,
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
	})
	if err != nil {
		t.Fatalf("upload %s: %v", name, err)
	}
	return src
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestSignupAndSignin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, token := env.signup(t, "ada@example.com")
	if token == "" || user.ID == "" {
		t.Fatalf("expected user and token")
	}
	if user.PasswordHash == "secret1" {
		t.Fatalf("password must be hashed")
	}

	_, _, err := env.app.Signup(ctx, SignupInput{Email: "ada@example.com", Password: "secret1"})
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	_, t1, err := env.app.Signin(ctx, SigninInput{Email: "ada@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	_, t2, err := env.app.Signin(ctx, SigninInput{Email: "ada@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	if t1 == t2 {
		t.Fatalf("expected distinct tokens per signin")
	}

	_, _, wrongPw := env.app.Signin(ctx, SigninInput{Email: "ada@example.com", Password: "nope"})
	_, _, unknown := env.app.Signin(ctx, SigninInput{Email: "who@example.com", Password: "secret1"})
	if !errors.Is(wrongPw, ErrInvalidCredentials) || !errors.Is(unknown, ErrInvalidCredentials) {
		t.Fatalf("expected identical credential errors, got %v / %v", wrongPw, unknown)
	}
}

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cases := []struct {
		name  string
		input SignupInput
		want  error
	}{
		{"missing email", SignupInput{Password: "secret1"}, ErrEmailAndPasswordRequired},
		{"missing password", SignupInput{Email: "a@b.test"}, ErrEmailAndPasswordRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := env.app.Signup(ctx, tc.input); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	_, _, err := env.app.Signup(ctx, SignupInput{Email: "bad", Password: "123"})
	var verr *validation.Error
	if !errors.As(err, &verr) || len(verr.Details) != 2 {
		t.Fatalf("expected two validation details, got %v", err)
	}
}

func TestEmailsAreMatchedExactly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signup(t, "ada@example.com")

	var verr *validation.Error
	_, _, err := env.app.Signin(ctx, SigninInput{Email: " ada@example.com", Password: "secret1"})
	if !errors.As(err, &verr) {
		t.Fatalf("padded email should fail validation on signin, got %v", err)
	}
	_, _, err = env.app.Signup(ctx, SignupInput{Email: "ada@example.com ", Password: "secret1"})
	if !errors.As(err, &verr) {
		t.Fatalf("padded email should fail validation on signup, got %v", err)
	}
	err = env.app.RequestPasswordReset(ctx, ResetRequestInput{Email: " ada@example.com"})
	if !errors.As(err, &verr) {
		t.Fatalf("padded email should fail validation on reset request, got %v", err)
	}
	if len(env.mailer.sent) != 0 {
		t.Fatalf("no reset mail expected for a padded email")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signup(t, "ada@example.com")

	if err := env.app.RequestPasswordReset(ctx, ResetRequestInput{Email: "ada@example.com"}); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if err := env.app.RequestPasswordReset(ctx, ResetRequestInput{Email: "ada@example.com"}); err != nil {
		t.Fatalf("request reset again: %v", err)
	}
	user, _, _ := env.store.GetUserByEmail(ctx, "ada@example.com")
	if user.ResetToken == nil || !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(*user.ResetToken) {
		t.Fatalf("expected 64 hex reset token, got %v", user.ResetToken)
	}
	token := *user.ResetToken
	if user.ResetTokenExpiry == nil || user.ResetTokenExpiry.Sub(env.clock.now) > 15*time.Minute {
		t.Fatalf("expected 15 minute expiry, got %v", user.ResetTokenExpiry)
	}
	if len(env.mailer.sent) != 2 {
		t.Fatalf("expected two reset mails, got %d", len(env.mailer.sent))
	}
	last := env.mailer.sent[1]
	if last.Subject != mail.ResetSubject || !strings.Contains(last.Text, "https://app.studium.test/reset-password?token="+token) {
		t.Fatalf("unexpected reset mail: %+v", last)
	}

	first := strings.TrimPrefix(regexp.MustCompile(`token=[0-9a-f]+`).FindString(env.mailer.sent[0].Text), "token=")
	if err := env.app.ResetPassword(ctx, ResetPasswordInput{Token: first, NewPassword: "newsecret"}); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("overwritten token should be invalid, got %v", err)
	}

	if err := env.app.ResetPassword(ctx, ResetPasswordInput{Token: token, NewPassword: "newsecret"}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := env.app.ResetPassword(ctx, ResetPasswordInput{Token: token, NewPassword: "another1"}); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("reused token should fail, got %v", err)
	}
	if _, _, err := env.app.Signin(ctx, SigninInput{Email: "ada@example.com", Password: "newsecret"}); err != nil {
		t.Fatalf("signin with new password: %v", err)
	}
	reset, _, _ := env.store.GetUserByEmail(ctx, "ada@example.com")
	if reset.ResetToken != nil || reset.ResetTokenExpiry != nil {
		t.Fatalf("reset fields should be cleared")
	}
}

func TestPasswordResetExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signup(t, "ada@example.com")
	if err := env.app.RequestPasswordReset(ctx, ResetRequestInput{Email: "ada@example.com"}); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	user, _, _ := env.store.GetUserByEmail(ctx, "ada@example.com")
	env.clock.Advance(16 * time.Minute)
	if err := env.app.ResetPassword(ctx, ResetPasswordInput{Token: *user.ResetToken, NewPassword: "newsecret"}); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expired token should fail, got %v", err)
	}
}

func TestPasswordResetInputErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.app.RequestPasswordReset(ctx, ResetRequestInput{}); !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("expected ErrEmailRequired, got %v", err)
	}
	if err := env.app.RequestPasswordReset(ctx, ResetRequestInput{Email: "nobody@example.com"}); err != nil {
		t.Fatalf("unknown email should succeed silently, got %v", err)
	}
	if len(env.mailer.sent) != 0 {
		t.Fatalf("no mail expected for unknown email")
	}
	if err := env.app.ResetPassword(ctx, ResetPasswordInput{Token: "x"}); !errors.Is(err, ErrTokenAndPasswordRequired) {
		t.Fatalf("expected ErrTokenAndPasswordRequired, got %v", err)
	}
	if err := env.app.ResetPassword(ctx, ResetPasswordInput{Token: "x", NewPassword: "123"}); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestResetMailFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errors.New("smtp down")
	env.signup(t, "ada@example.com")
	if err := env.app.RequestPasswordReset(context.Background(), ResetRequestInput{Email: "ada@example.com"}); err != nil {
		t.Fatalf("mail failure must not surface, got %v", err)
	}
}

func TestAuthenticateAndSignout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, token := env.signup(t, "ada@example.com")

	got, err := env.app.Authenticate(ctx, token)
	if err != nil || got.ID != user.ID {
		t.Fatalf("authenticate: %v %+v", err, got)
	}
	if _, err := env.app.Authenticate(ctx, ""); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if _, err := env.app.Authenticate(ctx, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if err := env.app.Signout(ctx, token); err != nil {
		t.Fatalf("signout: %v", err)
	}
	if _, err := env.app.Authenticate(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("revoked token should fail, got %v", err)
	}
}

func TestNotebookCRUDAndAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner, _ := env.signup(t, "owner@example.com")
	other, _ := env.signup(t, "other@example.com")

	if _, err := env.app.CreateNotebook(ctx, owner, CreateNotebookInput{Title: "t"}); !errors.Is(err, ErrTitleAndContentRequired) {
		t.Fatalf("expected ErrTitleAndContentRequired, got %v", err)
	}
	var verr *validation.Error
	if _, err := env.app.CreateNotebook(ctx, owner, CreateNotebookInput{Title: strings.Repeat("x", 256), Content: "c"}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for long title, got %v", err)
	}

	first := env.notebook(t, owner)
	second := env.notebook(t, owner)
	list, err := env.app.ListNotebooks(ctx, owner)
	if err != nil || len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("expected newest first, got %v %+v", err, list)
	}

	if _, err := env.app.GetNotebook(ctx, other, first.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if _, err := env.app.GetNotebook(ctx, owner, "missing"); !errors.Is(err, ErrNotebookNotFound) {
		t.Fatalf("expected ErrNotebookNotFound, got %v", err)
	}

	title := "Chemistry"
	updated, err := env.app.UpdateNotebook(ctx, owner, first.ID, UpdateNotebookInput{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Chemistry" || updated.Content != "notes" {
		t.Fatalf("partial update lost fields: %+v", updated)
	}
	empty := ""
	if _, err := env.app.UpdateNotebook(ctx, owner, first.ID, UpdateNotebookInput{Title: &empty}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for empty title, got %v", err)
	}
	if err := env.app.DeleteNotebook(ctx, other, first.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied on delete, got %v", err)
	}
}

func TestDeleteNotebookRemovesBlobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner, _ := env.signup(t, "owner@example.com")
	nb := env.notebook(t, owner)
	src := env.upload(t, owner, nb.ID, "notes.txt", "text/plain", "hello")
	conv, err := env.app.CreateConversation(ctx, owner, nb.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if err := env.app.DeleteNotebook(ctx, owner, nb.ID); err != nil {
		t.Fatalf("delete notebook: %v", err)
	}
	if _, err := env.blobs.Open(ctx, src.FilePath); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("blob should be gone, got %v", err)
	}
	if _, ok, _ := env.store.GetSource(ctx, src.ID); ok {
		t.Fatalf("source row should cascade")
	}
	if _, ok, _ := env.store.GetConversation(ctx, conv.ID); ok {
		t.Fatalf("conversation should cascade")
	}
}

func TestUploadSource(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner, _ := env.signup(t, "owner@example.com")
	other, _ := env.signup(t, "other@example.com")
	nb := env.notebook(t, owner)

	src := env.upload(t, owner, nb.ID, "readme.md", "application/octet-stream", "# Title\n\nbody text")
	if src.FileType != "text/markdown" {
		t.Fatalf("expected sniffed markdown, got %s", src.FileType)
	}
	if src.FileSize != int64(len("# Title\n\nbody text")) || src.FileName != "readme.md" {
		t.Fatalf("unexpected source: %+v", src)
	}
	if !regexp.MustCompile(`^` + nb.ID + `/\d+-[0-9a-f]{10}\.md$`).MatchString(src.FilePath) {
		t.Fatalf("unexpected stored path: %s", src.FilePath)
	}

	cases := []struct {
		name string
		user domain.User
		nbID string
		up   *Upload
		want error
	}{
		{"no file", owner, nb.ID, nil, ErrNoFile},
		{"bad type", owner, nb.ID, &Upload{FileName: "x.zip", ContentType: "application/zip", Body: strings.NewReader("PK")}, ErrInvalidFileType},
		{"too large", owner, nb.ID, &Upload{FileName: "big.txt", ContentType: "text/plain", Size: DefaultMaxUploadBytes + 1, Body: strings.NewReader("x")}, ErrFileTooLarge},
		{"foreign notebook", other, nb.ID, &Upload{FileName: "a.txt", ContentType: "text/plain", Body: strings.NewReader("a")}, ErrAccessDenied},
		{"missing notebook", owner, "nope", &Upload{FileName: "a.txt", ContentType: "text/plain", Body: strings.NewReader("a")}, ErrNotebookNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.app.UploadSource(ctx, tc.user, tc.nbID, tc.up); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestUploadSourceStreamOverCap(t *testing.T) {
	env := newTestEnv(t)
	env.app.maxUploadBytes = 8
	owner, _ := env.signup(t, "owner@example.com")
	nb := env.notebook(t, owner)
	// Size is under-reported, so only the stream reveals the overflow.
	_, err := env.app.UploadSource(context.Background(), owner, nb.ID, &Upload{
		FileName: "a.txt", ContentType: "text/plain", Size: 4, Body: strings.NewReader("0123456789"),
	})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	sources, _ := env.app.ListSources(context.Background(), owner, nb.ID)
	if len(sources) != 0 {
		t.Fatalf("no source should be recorded")
	}
}

func TestSourceDownloadAndDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner, _ := env.signup(t, "owner@example.com")
	other, _ := env.signup(t, "other@example.com")
	nb := env.notebook(t, owner)
	src := env.upload(t, owner, nb.ID, "notes.txt", "text/plain; charset=utf-8", "hello world")
	if src.FileType != "text/plain" {
		t.Fatalf("expected parameters stripped, got %s", src.FileType)
	}

	got, rc, err := env.app.DownloadSource(ctx, owner, src.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if got.ID != src.ID || !bytes.Equal(data, []byte("hello world")) {
		t.Fatalf("unexpected download %q", data)
	}
	if _, _, err := env.app.DownloadSource(ctx, other, src.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}

	if err := env.blobs.Delete(ctx, src.FilePath); err != nil {
		t.Fatalf("remove blob: %v", err)
	}
	if _, _, err := env.app.DownloadSource(ctx, owner, src.ID); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
	if err := env.app.DeleteSource(ctx, owner, src.ID); err != nil {
		t.Fatalf("delete with missing blob: %v", err)
	}
	if err := env.app.DeleteSource(ctx, owner, src.ID); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
}

func TestSendMessageWithoutSources(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner, _ := env.signup(t, "owner@example.com")
	nb := env.notebook(t, owner)
	conv, _ := env.app.CreateConversation(ctx, owner, nb.ID)

	userMsg, reply, err := env.app.SendMessage(ctx, owner, conv.ID, SendMessageInput{Content: "What is DNA?"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Content != replyNoSources || reply.Role != domain.RoleAssistant {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if userMsg.Role != domain.RoleUser || userMsg.Content != "What is DNA?" {
		t.Fatalf("unexpected user message: %+v", userMsg)
	}
	if env.gen.calls() != 0 {
		t.Fatalf("generator must not be called without sources")
	}
}

func TestSendMessageAnswersFromSources(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner, _ := env.signup(t, "owner@example.com")
	nb := env.notebook(t, owner)
	env.upload(t, owner, nb.ID, "first.txt", "text/plain", "alpha facts")
	env.upload(t, owner, nb.ID, "photo.png", "image/png", "\x89PNG\r\n\x1a\n")
	broken := env.upload(t, owner, nb.ID, "gone.txt", "text/plain", "lost")
	if err := env.blobs.Delete(ctx, broken.FilePath); err != nil {
		t.Fatalf("remove blob: %v", err)
	}
	conv, _ := env.app.CreateConversation(ctx, owner, nb.ID)

	if _, _, err := env.app.SendMessage(ctx, owner, conv.ID, SendMessageInput{Content: "first question"}); err != nil {
		t.Fatalf("send first: %v", err)
	}
	_, reply, err := env.app.SendMessage(ctx, owner, conv.ID, SendMessageInput{Content: "second question"})
	if err != nil {
		t.Fatalf("send second: %v", err)
	}
	if reply.Content != "the answer" {
		t.Fatalf("unexpected reply %q", reply.Content)
	}
	if strings.Join(reply.Sources, ",") != "first.txt,photo.png,gone.txt" {
		t.Fatalf("unexpected sources %v", reply.Sources)
	}

	prompt := env.gen.prompts[1]
	for _, want := range []string{
		"--- first.txt ---\nalpha facts\n",
		"--- photo.png ---\n[Image file: ",
		"--- gone.txt ---\n[Error reading file]\n",
		"CONVERSATION HISTORY:\nUser: first question\n\nAssistant: the answer\n\n",
		"USER QUESTION: second question",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Index(prompt, "first.txt") > strings.Index(prompt, "gone.txt") {
		t.Fatalf("sources should appear in upload order")
	}
	if strings.Count(prompt, "second question") != 1 {
		t.Fatalf("new question must not appear in history")
	}

	msgs, err := env.app.GetMessages(ctx, owner, conv.ID)
	if err != nil || len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %v %d", err, len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("messages out of order")
		}
	}

	convs, err := env.app.ListConversations(ctx, owner, nb.ID)
	if err != nil || len(convs) != 1 || len(convs[0].Messages) != 1 || convs[0].Messages[0].ID != reply.ID {
		t.Fatalf("expected latest message preview, got %v %+v", err, convs)
	}
}

// countMismatchPDF declares five pages under a /Pages node with no kids.
const countMismatchPDF = "%PDF-1.4\n" +
	"1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n" +
	"2 0 obj\n<< /Type /Pages /Count 5 /Kids [] >>\nendobj\n" +
	"xref\n0 3\n0000000000 65535 f \n0000000009 00000 n \n0000000058 00000 n \n" +
	"trailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n110\n%%EOF\n"

func TestSendMessageWithMalformedPDF(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	owner, _ := env.signup(t, "owner@example.com")
	nb := env.notebook(t, owner)
	src := env.upload(t, owner, nb.ID, "broken.pdf", "application/pdf", countMismatchPDF)
	if src.FileType != "application/pdf" {
		t.Fatalf("unexpected file type %q", src.FileType)
	}
	env.upload(t, owner, nb.ID, "notes.txt", "text/plain", "beta facts")
	conv, _ := env.app.CreateConversation(ctx, owner, nb.ID)

	_, reply, err := env.app.SendMessage(ctx, owner, conv.ID, SendMessageInput{Content: "q"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("send outlived its deadline")
	}
	if reply.Content != "the answer" {
		t.Fatalf("unexpected reply %q", reply.Content)
	}
	prompt := env.gen.prompts[0]
	for _, want := range []string{"--- broken.pdf ---\n[Error reading file]\n", "--- notes.txt ---\nbeta facts\n"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestSendMessageGeneratorFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.gen.err = errors.New("quota exceeded")
	owner, _ := env.signup(t, "owner@example.com")
	nb := env.notebook(t, owner)
	env.upload(t, owner, nb.ID, "a.txt", "text/plain", "text")
	conv, _ := env.app.CreateConversation(ctx, owner, nb.ID)

	_, reply, err := env.app.SendMessage(ctx, owner, conv.ID, SendMessageInput{Content: "q"})
	if err != nil {
		t.Fatalf("generator failure must not fail the request: %v", err)
	}
	if reply.Content != replyFailed {
		t.Fatalf("unexpected reply %q", reply.Content)
	}
}

func TestConversationAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner, _ := env.signup(t, "owner@example.com")
	other, _ := env.signup(t, "other@example.com")
	nb := env.notebook(t, owner)
	conv, _ := env.app.CreateConversation(ctx, owner, nb.ID)

	if _, _, err := env.app.SendMessage(ctx, owner, conv.ID, SendMessageInput{Content: "  "}); !errors.Is(err, ErrMessageRequired) {
		t.Fatalf("expected ErrMessageRequired, got %v", err)
	}
	var verr *validation.Error
	if _, _, err := env.app.SendMessage(ctx, owner, conv.ID, SendMessageInput{Content: strings.Repeat("x", 10001)}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := env.app.GetMessages(ctx, other, conv.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if _, err := env.app.GetMessages(ctx, owner, "missing"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
	if _, err := env.app.CreateConversation(ctx, other, nb.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if err := env.app.DeleteConversation(ctx, owner, conv.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.app.DeleteConversation(ctx, owner, conv.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}
