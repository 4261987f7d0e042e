package service

import (
	"context"
	"strings"
	"testing"

	"meramandi/internal/fetcher"
	"meramandi/internal/market"
)

func newTestCallers(store *memStore, prices fetcher.PriceFetcher, sender *recordingSender) *Callers {
	snaps := NewSnapshots(prices, store, market.Matcher{}, market.Aggregator{}, testLogger())
	return NewCallers(store, snaps, sender, testLogger())
}

func TestCallersRegisterSendsPrices(t *testing.T) {
	store := newMemStore()
	sender := &recordingSender{}
	callers := newTestCallers(store, &stubFetcher{records: hisarCotton()}, sender)

	res, err := callers.RegisterCaller(context.Background(), CallerRegistration{
		Phone:    "+919812345678",
		Name:     "Ramesh",
		State:    "Haryana",
		District: "Hisar",
		Crop:     "Cotton",
	})
	if err != nil {
		t.Fatalf("语音注册失败: %v", err)
	}
	if res.SMSSent != 3 {
		t.Fatalf("应发送 3 条短信, 实际 %d", res.SMSSent)
	}
	msgs := sender.messages()
	if msgs[0].To != "+919812345678" || !strings.Contains(msgs[0].Body, "₹5800") {
		t.Fatalf("短信内容不正确: %+v", msgs[0])
	}
	if !strings.Contains(msgs[2].Body, "Confirmed!") {
		t.Fatalf("最后一条短信应为确认: %q", msgs[2].Body)
	}

	owner, err := store.GetOwnerByPhone(context.Background(), "9812345678")
	if err != nil {
		t.Fatalf("应创建用户: %v", err)
	}
	if owner.PreferredCrop != "Cotton" || owner.SnapshotID == nil {
		t.Fatalf("用户信息不正确: %+v", owner)
	}
}

func TestCallersRegisterWithoutData(t *testing.T) {
	store := newMemStore()
	sender := &recordingSender{}
	callers := newTestCallers(store, &stubFetcher{}, sender)

	res, err := callers.RegisterCaller(context.Background(), CallerRegistration{
		Phone: "9812345678", Name: "Ramesh", State: "Haryana", District: "Hisar", Crop: "Wheat",
	})
	if err != nil {
		t.Fatalf("无数据时注册不应失败: %v", err)
	}
	if res.Snapshot != nil {
		t.Fatal("无数据时不应有快照")
	}
	msgs := sender.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Body, "Wheat prices unavailable") {
		t.Fatalf("应发送无数据短信: %+v", msgs)
	}
}

func TestCallersRegisterSMSFailureIsNotFatal(t *testing.T) {
	sender := &recordingSender{failOn: 1}
	callers := newTestCallers(newMemStore(), &stubFetcher{records: hisarCotton()}, sender)

	res, err := callers.RegisterCaller(context.Background(), CallerRegistration{
		Phone: "9812345678", State: "Haryana", District: "Hisar", Crop: "Cotton",
	})
	if err != nil {
		t.Fatalf("短信失败不应导致注册失败: %v", err)
	}
	if res.SMSSent != 0 {
		t.Fatalf("首条失败后应停止发送, 实际 %d", res.SMSSent)
	}
}
