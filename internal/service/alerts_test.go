package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"meramandi/internal/fetcher"
	"meramandi/internal/market"
	"meramandi/internal/schedule"
	"meramandi/internal/storage"
)

func newTestAlerts(store *memStore, prices fetcher.PriceFetcher, mailer *recordingMailer) *Alerts {
	snaps := NewSnapshots(prices, store, market.Matcher{}, market.Aggregator{Policy: market.ModalMean}, testLogger())
	return NewAlerts(store, store, store, snaps, mailer, testLogger())
}

func TestAlertsCreate(t *testing.T) {
	store := newMemStore()
	mailer := &recordingMailer{}
	alerts := newTestAlerts(store, &stubFetcher{records: hisarCotton()}, mailer)

	res, err := alerts.Create(context.Background(), CreateAlertInput{
		Name:      "Ramesh",
		Phone:     "+91 98123 45678",
		Email:     "ramesh@example.com",
		State:     "Haryana",
		District:  "Hisar",
		Commodity: "Cotton",
		Schedules: []schedule.Entry{{Day: "Monday", Time: "18:00"}},
	})
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	if res.Owner.Phone != "9812345678" {
		t.Fatalf("用户应以本地号码为键, 实际 %q", res.Owner.Phone)
	}
	if res.Subscription.Mandi != market.AllMandis || !res.Subscription.Active {
		t.Fatalf("订阅默认值不正确: %+v", res.Subscription)
	}
	if res.Snapshot == nil || res.Subscription.SnapshotID == nil || *res.Subscription.SnapshotID != res.Snapshot.ID {
		t.Fatalf("订阅应缓存快照: %+v", res)
	}
	if !res.EmailSent || len(mailer.to) != 1 || mailer.data[0].Schedules[0].Day != "Monday" {
		t.Fatalf("应发送确认邮件: %+v", mailer.data)
	}

	owner, _ := store.GetOwnerByPhone(context.Background(), "9812345678")
	if owner.SnapshotID == nil || *owner.SnapshotID != res.Snapshot.ID {
		t.Fatal("用户应指向最新快照")
	}
}

func TestAlertsCreateSameOwnerAcrossEntryPoints(t *testing.T) {
	store := newMemStore()
	alerts := newTestAlerts(store, &stubFetcher{records: hisarCotton()}, &recordingMailer{})

	first, err := alerts.Create(context.Background(), CreateAlertInput{Phone: "9812345678", State: "Haryana", District: "Hisar"})
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	second, err := alerts.Create(context.Background(), CreateAlertInput{Name: "Suresh", Phone: "09812345678", State: "Haryana", District: "Hisar"})
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	if first.Owner.ID != second.Owner.ID {
		t.Fatal("同一手机号应对应同一用户")
	}
	if second.Owner.Name != "Suresh" {
		t.Fatalf("应更新用户姓名, 实际 %q", second.Owner.Name)
	}
	if len(second.Subscription.Schedules) != 1 || second.Subscription.Schedules[0] != schedule.Default[0] {
		t.Fatalf("未提供计划时应使用默认计划: %+v", second.Subscription.Schedules)
	}
}

func TestAlertsCreateFallsBackToOwnerSnapshot(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	owner, _ := store.UpsertOwnerByPhone(ctx, storage.OwnerUpsert{Phone: "9812345678"})
	snap, _ := store.SaveSnapshot(ctx, market.Snapshot{
		State:     "Haryana",
		District:  "Hisar",
		Commodity: market.AllCommodities,
		Summary: market.Summary{
			MinPrice:   decimal.NewFromInt(1),
			MaxPrice:   decimal.NewFromInt(2),
			ModalPrice: decimal.NewFromInt(2),
			MandiName:  "Hisar",
		},
		FetchedAt: testNow(),
	})
	_ = store.SetOwnerSnapshot(ctx, owner.ID, snap.ID)

	alerts := newTestAlerts(store, &stubFetcher{err: fetcher.ErrUpstreamUnavailable}, &recordingMailer{})
	res, err := alerts.Create(ctx, CreateAlertInput{Phone: "9812345678", State: "Haryana", District: "Hisar"})
	if err != nil {
		t.Fatalf("上游失败不应阻止创建: %v", err)
	}
	if res.Snapshot == nil || res.Snapshot.ID != snap.ID {
		t.Fatalf("应回退到用户快照: %+v", res.Snapshot)
	}
}

func TestAlertsCreateIgnoresOwnerSnapshotForOtherCrop(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	owner, _ := store.UpsertOwnerByPhone(ctx, storage.OwnerUpsert{Phone: "9812345678", PreferredCrop: "Wheat"})
	wheat, _ := store.SaveSnapshot(ctx, market.Snapshot{
		State:     "Haryana",
		District:  "Hisar",
		Commodity: "Wheat",
		Summary: market.Summary{
			MinPrice:   decimal.NewFromInt(2400),
			MaxPrice:   decimal.NewFromInt(2500),
			ModalPrice: decimal.NewFromInt(2450),
			MandiName:  "Hisar",
		},
		FetchedAt: testNow(),
	})
	_ = store.SetOwnerSnapshot(ctx, owner.ID, wheat.ID)

	alerts := newTestAlerts(store, &stubFetcher{err: fetcher.ErrUpstreamUnavailable}, &recordingMailer{})
	res, err := alerts.Create(ctx, CreateAlertInput{Phone: "9812345678", State: "Haryana", District: "Hisar", Commodity: "Cotton"})
	if err != nil {
		t.Fatalf("上游失败不应阻止创建: %v", err)
	}
	if res.Snapshot != nil || res.Subscription.SnapshotID != nil {
		t.Fatalf("其他作物的快照不应挂到订阅上: %+v", res.Snapshot)
	}
}

func TestAlertsCreateEmailFailureIsNotFatal(t *testing.T) {
	store := newMemStore()
	mailer := &recordingMailer{err: errors.New("smtp down")}
	alerts := newTestAlerts(store, &stubFetcher{records: hisarCotton()}, mailer)

	res, err := alerts.Create(context.Background(), CreateAlertInput{
		Phone: "9812345678", Email: "x@example.com", State: "Haryana", District: "Hisar",
	})
	if err != nil {
		t.Fatalf("邮件失败不应导致创建失败: %v", err)
	}
	if res.EmailSent {
		t.Fatal("邮件失败时 EmailSent 应为 false")
	}
}

func TestAlertsCreateValidation(t *testing.T) {
	alerts := newTestAlerts(newMemStore(), &stubFetcher{}, &recordingMailer{})
	negative := decimal.NewFromInt(-5)

	cases := []struct {
		name string
		in   CreateAlertInput
	}{
		{"short phone", CreateAlertInput{Phone: "12345", State: "Haryana", District: "Hisar"}},
		{"missing district", CreateAlertInput{Phone: "9812345678", State: "Haryana"}},
		{"bad schedule day", CreateAlertInput{Phone: "9812345678", State: "Haryana", District: "Hisar",
			Schedules: []schedule.Entry{{Day: "Someday", Time: "09:00"}}}},
		{"bad schedule time", CreateAlertInput{Phone: "9812345678", State: "Haryana", District: "Hisar",
			Schedules: []schedule.Entry{{Day: "Everyday", Time: "25:00"}}}},
		{"bad email", CreateAlertInput{Phone: "9812345678", Email: "not-an-email", State: "Haryana", District: "Hisar"}},
		{"negative target", CreateAlertInput{Phone: "9812345678", State: "Haryana", District: "Hisar", TargetPrice: &negative}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := alerts.Create(context.Background(), tc.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("应返回 ErrInvalidInput, 实际 %v", err)
			}
		})
	}
}
