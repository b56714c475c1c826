package account

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/homeservices-identity/internal/auth"
	"github.com/hongminglow/homeservices-identity/internal/models"
	"github.com/hongminglow/homeservices-identity/internal/notify"
	"github.com/hongminglow/homeservices-identity/internal/otp"
	"github.com/hongminglow/homeservices-identity/internal/storage/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// outbox captures every message handed to the dispatcher.
type outbox struct {
	mu   sync.Mutex
	sent []notify.Message
	fail error
}

func (o *outbox) Send(_ context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) last(t *testing.T) notify.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent, "no message sent")
	return o.sent[len(o.sent)-1]
}

type fixture struct {
	svc        *Service
	store      *memory.Store
	outbox     *outbox
	clock      *clock
	dispatcher *notify.Dispatcher
	tokens     *auth.TokenManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	box := &outbox{}
	store := memory.NewStore()
	tokens, err := auth.NewTokenManager("test-secret", "homeservices-identity", 0)
	require.NoError(t, err)
	dispatcher := notify.NewDispatcher(box, logger, time.Second)

	svc := NewService(Deps{
		Users:      store,
		Profiles:   store,
		OTP:        otp.NewPolicy(otp.WithClock(clk.Now)),
		Tokens:     tokens,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	return &fixture{svc: svc, store: store, outbox: box, clock: clk, dispatcher: dispatcher, tokens: tokens}
}

// sentCode waits for in-flight deliveries and returns the latest code sent.
func (f *fixture) sentCode(t *testing.T) string {
	t.Helper()
	f.dispatcher.Wait()
	msg := f.outbox.last(t)
	stored, err := f.store.FindByEmail(context.Background(), msg.To)
	require.NoError(t, err)
	require.True(t, stored.HasChallenge())
	require.Contains(t, msg.Text, *stored.OTP)
	return *stored.OTP
}

func (f *fixture) registerAndVerify(t *testing.T, email, password string, role models.Role) VerifyResult {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Register(ctx, RegisterInput{Email: email, Password: password, FullName: "Alice", Role: string(role)})
	require.NoError(t, err)
	res, err := f.svc.VerifyOTP(ctx, email, f.sentCode(t), "register")
	require.NoError(t, err)
	return res
}

func TestScenarios(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A: register leaves a pending user and dispatches a code.
	reg, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "pw1", FullName: "Alice", Role: "customer"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", reg.Email)
	assert.False(t, reg.Resent)

	pending, err := f.store.FindByID(ctx, reg.UserID)
	require.NoError(t, err)
	assert.False(t, pending.IsVerified)
	o1 := f.sentCode(t)
	assert.Equal(t, "otp-register", f.outbox.last(t).Tag)

	// B: verifying O1 verifies, provisions one customer profile and returns a token.
	verified, err := f.svc.VerifyOTP(ctx, "a@x.com", o1, "register")
	require.NoError(t, err)
	assert.True(t, verified.User.IsVerified)
	assert.NotEmpty(t, verified.Token)
	assert.Equal(t, 1, f.store.CountProfiles(reg.UserID))

	profile, err := f.store.FindProfile(ctx, models.RoleCustomer, reg.UserID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", profile.FullName)
	assert.Equal(t, "a@x.com", profile.Email)

	stored, err := f.store.FindByID(ctx, reg.UserID)
	require.NoError(t, err)
	assert.False(t, stored.HasChallenge())

	// C: login requires a second factor and issues O2.
	login, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	assert.True(t, login.RequireOTP)
	o2 := f.sentCode(t)
	assert.Equal(t, "otp-login", f.outbox.last(t).Tag)

	// D: a wrong code is a mismatch.
	wrong := "000000"
	if o2 == wrong {
		wrong = "000001"
	}
	_, err = f.svc.VerifyOTP(ctx, "a@x.com", wrong, "login")
	assert.ErrorIs(t, err, ErrInvalidOTP)

	// E: the correct code after the window is expired.
	f.clock.Advance(otp.TTL)
	_, err = f.svc.VerifyOTP(ctx, "a@x.com", o2, "login")
	assert.ErrorIs(t, err, ErrExpiredOTP)

	assert.Equal(t, 1, f.store.CountProfiles(reg.UserID))
}

func TestRegister_ResendIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "pw1"})
	require.NoError(t, err)
	code1 := f.sentCode(t)

	second, err := f.svc.Register(ctx, RegisterInput{Email: " A@X.com ", Password: "pw2", FullName: "Alice B", Role: "worker"})
	require.NoError(t, err)
	code2 := f.sentCode(t)

	assert.True(t, second.Resent)
	assert.Equal(t, first.UserID, second.UserID)
	assert.NotEqual(t, code1, code2)
	assert.Equal(t, 1, f.store.CountUsers())

	_, err = f.svc.VerifyOTP(ctx, "a@x.com", code1, "register")
	assert.ErrorIs(t, err, ErrInvalidOTP, "superseded code must not verify")

	res, err := f.svc.VerifyOTP(ctx, "a@x.com", code2, "register")
	require.NoError(t, err)
	assert.Equal(t, models.RoleWorker, res.User.Role)
	assert.Equal(t, "Alice B", res.User.FullName)

	_, err = f.svc.Login(ctx, "a@x.com", "pw1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "a@x.com", "pw2")
	assert.NoError(t, err)
}

func TestRegister_VerifiedEmailIsDuplicate(t *testing.T) {
	f := newFixture(t)
	f.registerAndVerify(t, "a@x.com", "pw1", models.RoleCustomer)

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "other"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   RegisterInput
		msg  string
	}{
		{"missing email", RegisterInput{Password: "pw"}, "Email and password are required"},
		{"missing password", RegisterInput{Email: "a@x.com"}, "Email and password are required"},
		{"unknown role", RegisterInput{Email: "a@x.com", Password: "pw", Role: "admin"}, "Invalid role"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tc.in)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.msg, verr.Message)
		})
	}
	assert.Zero(t, f.store.CountUsers())
}

func TestRegister_DefaultsToCustomer(t *testing.T) {
	f := newFixture(t)
	res := f.registerAndVerify(t, "a@x.com", "pw1", "")
	assert.Equal(t, models.RoleCustomer, res.User.Role)
}

func TestRegister_DeliveryFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	f.outbox.fail = errors.New("mail provider down")

	reg, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "pw1"})
	require.NoError(t, err)
	f.dispatcher.Wait()

	stored, err := f.store.FindByID(context.Background(), reg.UserID)
	require.NoError(t, err)
	assert.True(t, stored.HasChallenge())
}

func TestRegister_ConcurrentSameEmail(t *testing.T) {
	f := newFixture(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Register(context.Background(), RegisterInput{Email: "race@x.com", Password: "pw"})
		}()
	}
	wg.Wait()
	f.dispatcher.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.store.CountUsers())
}

func TestLogin_AlwaysRequiresSecondFactor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.registerAndVerify(t, "a@x.com", "pw1", models.RoleWorker)

	for range 2 {
		res, err := f.svc.Login(ctx, "a@x.com", "pw1")
		require.NoError(t, err)
		assert.True(t, res.RequireOTP)

		stored, err := f.store.FindByID(ctx, first.User.ID)
		require.NoError(t, err)
		assert.True(t, stored.HasChallenge(), "login must re-arm a challenge")
	}

	out, err := f.svc.VerifyOTP(ctx, "a@x.com", f.sentCode(t), "login")
	require.NoError(t, err)
	assert.NotEmpty(t, out.Token)
	assert.Equal(t, 1, f.store.CountProfiles(first.User.ID), "login verification must not provision again")
}

func TestLogin_UnknownEmailAndWrongPasswordLookAlike(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerAndVerify(t, "a@x.com", "pw1", models.RoleCustomer)

	_, errUnknown := f.svc.Login(ctx, "nobody@x.com", "pw1")
	_, errWrong := f.svc.Login(ctx, "a@x.com", "nope")

	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())

	_, err := f.svc.Login(ctx, "", "pw1")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestVerifyOTP_CannotBeReplayed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "pw1"})
	require.NoError(t, err)
	code := f.sentCode(t)

	_, err = f.svc.VerifyOTP(ctx, "a@x.com", code, "register")
	require.NoError(t, err)
	_, err = f.svc.VerifyOTP(ctx, "a@x.com", code, "register")
	assert.ErrorIs(t, err, ErrInvalidOTP)
}

func TestVerifyOTP_ConcurrentSubmissionsSucceedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "pw1"})
	require.NoError(t, err)
	code := f.sentCode(t)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.VerifyOTP(ctx, "a@x.com", code, "register"); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, success)
}

func TestVerifyOTP_JustBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "pw1"})
	require.NoError(t, err)
	code := f.sentCode(t)

	f.clock.Advance(otp.TTL - time.Second)
	_, err = f.svc.VerifyOTP(ctx, "a@x.com", code, "register")
	assert.NoError(t, err)
}

func TestVerifyOTP_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerAndVerify(t, "a@x.com", "pw1", models.RoleCustomer)

	_, err := f.svc.VerifyOTP(ctx, "ghost@x.com", "123456", "register")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.svc.VerifyOTP(ctx, "a@x.com", "123456", "login")
	assert.ErrorIs(t, err, ErrInvalidOTP, "no outstanding challenge")

	_, err = f.svc.VerifyOTP(ctx, "a@x.com", "123456", "reset")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.VerifyOTP(ctx, "a@x.com", "", "login")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestResolveCurrentUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.registerAndVerify(t, "a@x.com", "pw1", models.RoleCustomer)

	user, err := f.svc.ResolveCurrentUser(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, user.ID)
	assert.Empty(t, user.PasswordHash)

	_, err = f.svc.ResolveCurrentUser(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.ResolveCurrentUser(ctx, res.Token+"x")
	assert.ErrorIs(t, err, ErrUnauthorized)

	f.store.DeleteUser(res.User.ID)
	_, err = f.svc.ResolveCurrentUser(ctx, res.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResponsesNeverCarryPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.registerAndVerify(t, "a@x.com", "pw1", models.RoleCustomer)
	current, err := f.svc.ResolveCurrentUser(ctx, res.Token)
	require.NoError(t, err)

	for _, u := range []models.User{res.User, current} {
		raw, err := json.Marshal(u)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "password")
		assert.NotContains(t, string(raw), "$2a$")
		assert.NotContains(t, string(raw), "otp")
	}
}

func TestUpdateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.registerAndVerify(t, "a@x.com", "pw1", models.RoleCustomer).User
	bob := f.registerAndVerify(t, "b@x.com", "pw1", models.RoleWorker).User

	_, err := f.svc.UpdateUser(ctx, alice, bob.ID, map[string]any{"full_name": "Mallory"})
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := f.svc.UpdateUser(ctx, alice, alice.ID, map[string]any{
		"full_name":  "Alice Liddell",
		"phone":      "+15550100",
		"role":       "worker",
		"email":      "evil@x.com",
		"password":   "hijack",
		"isVerified": false,
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", updated.FullName)
	assert.Equal(t, "+15550100", updated.Phone)
	assert.Equal(t, models.RoleCustomer, updated.Role)
	assert.Equal(t, "a@x.com", updated.Email)
	assert.True(t, updated.IsVerified)

	_, err = f.svc.Login(ctx, "a@x.com", "pw1")
	assert.NoError(t, err, "password must be untouched")

	_, err = f.svc.UpdateUser(ctx, alice, alice.ID, map[string]any{"role": "worker"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestProfileReadAndUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.registerAndVerify(t, "w@x.com", "pw1", models.RoleWorker).User

	profile, err := f.svc.Profile(ctx, worker)
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStatusOffline, profile.Status)

	updated, err := f.svc.UpdateProfile(ctx, worker, map[string]any{"bio": "Plumber", "address": "ignored", "status": "online"})
	require.NoError(t, err)
	assert.Equal(t, "Plumber", updated.Bio)
	assert.Equal(t, "online", updated.Status)
	assert.Empty(t, updated.Address)

	_, err = f.svc.UpdateProfile(ctx, worker, map[string]any{"bio": 42})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Profile(ctx, models.User{ID: "missing", Role: models.RoleCustomer})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorkerProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.registerAndVerify(t, "w@x.com", "pw1", models.RoleWorker).User
	customer := f.registerAndVerify(t, "c@x.com", "pw1", models.RoleCustomer).User

	profile, owner, err := f.svc.WorkerProfile(ctx, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, worker.ID, profile.UserID)
	assert.Equal(t, "w@x.com", owner.Email)
	assert.Empty(t, owner.PasswordHash)

	_, _, err = f.svc.WorkerProfile(ctx, customer.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
