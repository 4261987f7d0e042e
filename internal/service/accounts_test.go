package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"meramandi/internal/market"
	"meramandi/internal/storage"
)

func testNow() time.Time {
	return time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
}

func newTestAccounts(store *memStore) *Accounts {
	return newTestAccountsWithMailer(store, &recordingMailer{})
}

func newTestAccountsWithMailer(store *memStore, mailer *recordingMailer) *Accounts {
	snaps := NewSnapshots(&stubFetcher{records: hisarCotton()}, store, market.Matcher{}, market.Aggregator{}, testLogger())
	a := NewAccounts(store, snaps, mailer, 30*24*time.Hour, 10*time.Minute, testLogger())
	a.cost = bcrypt.MinCost
	a.now = testNow
	return a
}

func TestAccountsRegisterLoginLogout(t *testing.T) {
	store := newMemStore()
	accounts := newTestAccounts(store)
	ctx := context.Background()

	sess, err := accounts.Register(ctx, RegisterInput{
		Name:     "Ramesh",
		Phone:    "9812345678",
		Password: "secret1",
		State:    "Haryana",
		District: "Hisar",
		Crop:     "Cotton",
	})
	if err != nil {
		t.Fatalf("注册失败: %v", err)
	}
	if len(sess.Token) != 64 {
		t.Fatalf("token 应为 32 字节十六进制, 实际长度 %d", len(sess.Token))
	}
	if !sess.ExpiresAt.Equal(testNow().Add(30 * 24 * time.Hour)) {
		t.Fatalf("token 有效期不正确: %s", sess.ExpiresAt)
	}
	if sess.Snapshot == nil || sess.Snapshot.Summary.MandiName != "Adampur" {
		t.Fatalf("注册时应捕获快照: %+v", sess.Snapshot)
	}

	if _, err := accounts.Register(ctx, RegisterInput{Name: "X", Phone: "+919812345678", Password: "another"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("重复注册应返回 ErrConflict, 实际 %v", err)
	}

	if _, err := accounts.Login(ctx, "9812345678", "wrong-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("错误密码应返回 ErrUnauthorized, 实际 %v", err)
	}
	if _, err := accounts.Login(ctx, "9000000000", "secret1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("未知号码应返回 ErrUnauthorized, 实际 %v", err)
	}

	login, err := accounts.Login(ctx, "+91 98123 45678", "secret1")
	if err != nil {
		t.Fatalf("登录失败: %v", err)
	}

	owner, err := accounts.Authenticate(ctx, login.Token)
	if err != nil || owner.Name != "Ramesh" {
		t.Fatalf("token 校验失败: %+v %v", owner, err)
	}

	if err := accounts.Logout(ctx, login.Token); err != nil {
		t.Fatalf("登出失败: %v", err)
	}
	if _, err := accounts.Authenticate(ctx, login.Token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("登出后 token 应失效, 实际 %v", err)
	}
}

func TestAccountsTokenExpiry(t *testing.T) {
	store := newMemStore()
	accounts := newTestAccounts(store)
	ctx := context.Background()

	sess, err := accounts.Register(ctx, RegisterInput{Name: "Ramesh", Phone: "9812345678", Password: "secret1"})
	if err != nil {
		t.Fatalf("注册失败: %v", err)
	}
	accounts.now = func() time.Time { return testNow().Add(31 * 24 * time.Hour) }
	if _, err := accounts.Authenticate(ctx, sess.Token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("过期 token 应返回 ErrUnauthorized, 实际 %v", err)
	}
}

func TestAccountsRegisterValidation(t *testing.T) {
	accounts := newTestAccounts(newMemStore())
	cases := []RegisterInput{
		{Name: "A", Phone: "123", Password: "secret1"},
		{Name: "A", Phone: "9812345678", Password: "123"},
		{Name: " ", Phone: "9812345678", Password: "secret1"},
		{Name: "A", Phone: "9812345678", Password: "secret1", Email: "ramesh-at-example"},
		{Name: "A", Phone: "9812345678", Password: "secret1", Email: "Ramesh <ramesh@example.in>"},
	}
	for _, in := range cases {
		if _, err := accounts.Register(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%+v 应返回 ErrInvalidInput, 实际 %v", in, err)
		}
	}
}

func TestAccountsRegisterClaimsVoiceOwner(t *testing.T) {
	store := newMemStore()
	accounts := newTestAccounts(store)
	ctx := context.Background()

	alerts := newTestAlerts(store, &stubFetcher{records: hisarCotton()}, &recordingMailer{})
	created, err := alerts.Create(ctx, CreateAlertInput{Phone: "9812345678", State: "Haryana", District: "Hisar"})
	if err != nil {
		t.Fatalf("创建订阅失败: %v", err)
	}

	sess, err := accounts.Register(ctx, RegisterInput{Name: "Ramesh", Phone: "9812345678", Password: "secret1"})
	if err != nil {
		t.Fatalf("已有无密码用户应可注册: %v", err)
	}
	if sess.Owner.ID != created.Owner.ID {
		t.Fatal("注册应复用已有用户")
	}
}

func TestAccountsEmailOTP(t *testing.T) {
	store := newMemStore()
	mailer := &recordingMailer{}
	accounts := newTestAccountsWithMailer(store, mailer)
	ctx := context.Background()

	owner, err := store.UpsertOwnerByPhone(ctx, storage.OwnerUpsert{
		Phone: "9812345678", Name: "Ramesh", Email: "ramesh@example.in", State: "Haryana", District: "Hisar",
	})
	if err != nil {
		t.Fatalf("创建用户失败: %v", err)
	}

	if err := accounts.RequestEmailOTP(ctx, "Ramesh@Example.in"); err != nil {
		t.Fatalf("发送验证码失败: %v", err)
	}
	sent, ok := mailer.lastOTP()
	if !ok || len(sent.Code) != 6 || sent.Name != "Ramesh" || sent.ValidFor != 10*time.Minute {
		t.Fatalf("验证码邮件内容不正确: %+v", sent)
	}
	pending := store.owner(owner.ID)
	if pending.EmailOTPHash == "" || pending.EmailOTPHash == sent.Code {
		t.Fatal("验证码应以哈希形式保存")
	}
	if !pending.EmailOTPExpiresAt.Equal(testNow().Add(10 * time.Minute)) {
		t.Fatalf("验证码过期时间不正确: %v", pending.EmailOTPExpiresAt)
	}

	if _, err := accounts.VerifyEmailOTP(ctx, "ramesh@example.in", badOTP); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("错误验证码应返回 ErrInvalidInput, 实际 %v", err)
	}
	if store.owner(owner.ID).EmailOTPAttempts != 1 {
		t.Fatal("错误验证码应计入尝试次数")
	}

	sess, err := accounts.VerifyEmailOTP(ctx, "ramesh@example.in", sent.Code)
	if err != nil {
		t.Fatalf("验证失败: %v", err)
	}
	if sess.Token == "" || !sess.Owner.EmailVerified {
		t.Fatalf("验证后应登录并标记邮箱: %+v", sess.Owner)
	}
	verified := store.owner(owner.ID)
	if !verified.EmailVerified || verified.EmailOTPHash != "" || verified.AuthToken != sess.Token {
		t.Fatalf("验证后状态不正确: %+v", verified)
	}

	if _, err := accounts.VerifyEmailOTP(ctx, "ramesh@example.in", sent.Code); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("验证码只能使用一次, 实际 %v", err)
	}
}

func TestAccountsEmailOTPRejections(t *testing.T) {
	store := newMemStore()
	mailer := &recordingMailer{}
	accounts := newTestAccountsWithMailer(store, mailer)
	ctx := context.Background()

	if _, err := store.UpsertOwnerByPhone(ctx, storage.OwnerUpsert{Phone: "9812345678", Email: "ramesh@example.in"}); err != nil {
		t.Fatalf("创建用户失败: %v", err)
	}

	if err := accounts.RequestEmailOTP(ctx, "nobody@example.in"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("未知邮箱应返回 ErrNotFound, 实际 %v", err)
	}
	if err := accounts.RequestEmailOTP(ctx, "not-an-email"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("非法邮箱应返回 ErrInvalidInput, 实际 %v", err)
	}
	if _, err := accounts.VerifyEmailOTP(ctx, "ramesh@example.in", "123456"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("未申请验证码应返回 ErrInvalidInput, 实际 %v", err)
	}

	t.Run("expired", func(t *testing.T) {
		if err := accounts.RequestEmailOTP(ctx, "ramesh@example.in"); err != nil {
			t.Fatalf("发送验证码失败: %v", err)
		}
		sent, _ := mailer.lastOTP()
		accounts.now = func() time.Time { return testNow().Add(10 * time.Minute) }
		defer func() { accounts.now = testNow }()
		if _, err := accounts.VerifyEmailOTP(ctx, "ramesh@example.in", sent.Code); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("过期验证码应返回 ErrInvalidInput, 实际 %v", err)
		}
	})

	t.Run("too many attempts", func(t *testing.T) {
		if err := accounts.RequestEmailOTP(ctx, "ramesh@example.in"); err != nil {
			t.Fatalf("发送验证码失败: %v", err)
		}
		sent, _ := mailer.lastOTP()
		for i := 0; i < maxOTPAttempts; i++ {
			if _, err := accounts.VerifyEmailOTP(ctx, "ramesh@example.in", badOTP); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("第 %d 次错误尝试应返回 ErrInvalidInput, 实际 %v", i+1, err)
			}
		}
		if _, err := accounts.VerifyEmailOTP(ctx, "ramesh@example.in", sent.Code); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("超过尝试次数后正确验证码也应被拒绝, 实际 %v", err)
		}
	})

	t.Run("mailer failure", func(t *testing.T) {
		mailer.err = errors.New("smtp down")
		defer func() { mailer.err = nil }()
		if err := accounts.RequestEmailOTP(ctx, "ramesh@example.in"); err == nil {
			t.Fatal("邮件发送失败应返回错误")
		}
	})
}

// badOTP is never issued; codes start at 100000.
const badOTP = "000000"
