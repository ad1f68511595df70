package intent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"IntentChain/internal/chain"
	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/identity"
	"IntentChain/internal/observability/alerting"
	"IntentChain/internal/ratelimit"
)

const (
	walletA   = "0x00000000000000000000000000000000000000ab"
	walletB   = "0x00000000000000000000000000000000000000ef"
	recipient = "0x00000000000000000000000000000000000000cd"
)

func testChains(t *testing.T) *chain.Registry {
	t.Helper()
	reg, err := chain.NewRegistry(context.Background(), []chain.Definition{
		{ChainID: 1, Name: "mainnet"},
		{ChainID: 8453, Name: "base"},
	}, false)
	if err != nil {
		t.Fatalf("构造链注册表失败: %v", err)
	}
	return reg
}

func newTestService(t *testing.T, now *time.Time) (*Service, *MemoryPublisher) {
	t.Helper()
	events := NewMemoryPublisher()
	svc := NewService(NewMemoryStore(), events, ratelimit.NopLimiter{}, testChains(t),
		WithClock(func() time.Time { return *now }))
	return svc, events
}

func validDetails() Details {
	return Details{Token: "USDC", Amount: "12.5", Recipient: recipient, ChainID: 8453}
}

func TestCreateByAgentStampsOwnership(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	svc, events := newTestService(t, &now)
	agent := identity.Agent("member-1", walletA)

	i, err := svc.Create(context.Background(), agent, CreateRequest{Details: validDetails()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(i.ID, "int_") {
		t.Fatalf("意图 ID 前缀不符: %s", i.ID)
	}
	if i.UserID != walletA || i.TrustchainID != walletA {
		t.Fatalf("归属未从身份定格: %+v", i)
	}
	if i.CreatedByMemberID != "member-1" || i.AgentID != "member-1" {
		t.Fatalf("创建者成员未记录: %+v", i)
	}
	if i.Status != StatusPending {
		t.Fatalf("新意图状态应为 pending: %s", i.Status)
	}
	if len(i.StatusHistory) != 1 || i.StatusHistory[0].Status != StatusPending {
		t.Fatalf("历史应只有一条 pending 记录: %+v", i.StatusHistory)
	}
	if i.ExpiresAt != now.Add(DefaultExpiry).Unix() {
		t.Fatalf("默认过期时间不符: %d", i.ExpiresAt)
	}
	if got := events.Events(); len(got) != 1 || got[0].Status != StatusPending {
		t.Fatalf("应发布一条 pending 事件: %+v", got)
	}
}

func TestCreateBySessionIsForbidden(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	svc, _ := newTestService(t, &now)

	_, err := svc.Create(context.Background(), identity.User(walletA), CreateRequest{Details: validDetails()})
	if xerrors.CodeOf(err) != xerrors.CodeForbidden {
		t.Fatalf("会话身份创建意图应返回 Forbidden，实际: %v", err)
	}
}

func TestCreateLegacyDemoPath(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	svc, _ := newTestService(t, &now)

	i, err := svc.Create(context.Background(), identity.Identity{}, CreateRequest{Details: validDetails()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if i.UserID != "demo-user" {
		t.Fatalf("遗留路径应落到 demo-user: %s", i.UserID)
	}
}

func TestCreateValidation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	svc, _ := newTestService(t, &now)
	agent := identity.Agent("member-1", walletA)

	cases := []struct {
		name    string
		details Details
	}{
		{"缺少 token", Details{Amount: "1", Recipient: recipient, ChainID: 1}},
		{"缺少收款人", Details{Token: "USDC", Amount: "1", ChainID: 1}},
		{"收款人不是地址", Details{Token: "USDC", Amount: "1", Recipient: "not-an-address", ChainID: 1}},
		{"金额非数字", Details{Token: "USDC", Amount: "12.5e3", Recipient: recipient, ChainID: 1}},
		{"金额为零", Details{Token: "USDC", Amount: "0.00", Recipient: recipient, ChainID: 1}},
		{"不支持的链", Details{Token: "USDC", Amount: "1", Recipient: recipient, ChainID: 99999}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), agent, CreateRequest{Details: tc.details})
			if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
				t.Fatalf("应返回 InvalidArgument，实际: %v", err)
			}
		})
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("counter backend down")
}
func (failingLimiter) Close() error { return nil }

func TestCreateRateLimitFailsClosed(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	agent := identity.Agent("member-1", walletA)

	// 计数器本身出错时必须拒绝，而不是放行。
	svc := NewService(NewMemoryStore(), NewMemoryPublisher(), failingLimiter{}, testChains(t),
		WithClock(func() time.Time { return now }))
	if _, err := svc.Create(context.Background(), agent, CreateRequest{Details: validDetails()}); xerrors.CodeOf(err) != xerrors.CodeServiceUnavailable {
		t.Fatalf("限流检查失败应返回 ServiceUnavailable，实际: %v", err)
	}

	limited := ratelimit.NewMemoryLimiter(1, time.Minute).WithClock(func() time.Time { return now })
	svc = NewService(NewMemoryStore(), NewMemoryPublisher(), limited, testChains(t),
		WithClock(func() time.Time { return now }))
	if _, err := svc.Create(context.Background(), agent, CreateRequest{Details: validDetails()}); err != nil {
		t.Fatalf("第一次创建应成功: %v", err)
	}
	if _, err := svc.Create(context.Background(), agent, CreateRequest{Details: validDetails()}); xerrors.CodeOf(err) != xerrors.CodeRateLimited {
		t.Fatalf("超出配额应返回 RateLimited，实际: %v", err)
	}
}

func TestEndToEndLifecycle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	svc, _ := newTestService(t, &now)
	agent := identity.Agent("member-1", walletA)
	user := identity.User(walletA)

	i, err := svc.Create(context.Background(), agent, CreateRequest{Details: validDetails()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	i, err = svc.UpdateStatus(context.Background(), user, i.ID, UpdateRequest{Status: StatusApproved})
	if err != nil {
		t.Fatalf("用户审批应成功: %v", err)
	}
	if len(i.StatusHistory) != 2 {
		t.Fatalf("审批后历史应有两条: %+v", i.StatusHistory)
	}

	// approved 不能直接到 confirmed，即使调用方是归属代理。
	_, err = svc.UpdateStatus(context.Background(), agent, i.ID, UpdateRequest{Status: StatusConfirmed})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("approved -> confirmed 应返回 InvalidArgument，实际: %v", err)
	}

	i, err = svc.UpdateStatus(context.Background(), user, i.ID, UpdateRequest{Status: StatusBroadcasting, TxHash: "0xbeef"})
	if err != nil {
		t.Fatalf("用户广播应成功: %v", err)
	}
	if i.Details.TxHash != "0xbeef" {
		t.Fatalf("txHash 应被记录: %+v", i.Details)
	}

	i, err = svc.UpdateStatus(context.Background(), agent, i.ID, UpdateRequest{Status: StatusConfirmed, Note: "3 confirmations"})
	if err != nil {
		t.Fatalf("代理确认应成功: %v", err)
	}
	if i.Status != StatusConfirmed {
		t.Fatalf("终态应为 confirmed: %s", i.Status)
	}
	last := i.StatusHistory[len(i.StatusHistory)-1]
	if last.Status != i.Status || last.Note != "3 confirmations" {
		t.Fatalf("历史最后一条应与当前状态一致: %+v", last)
	}
}

func TestOwnershipEnforced(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	svc, _ := newTestService(t, &now)
	agent := identity.Agent("member-1", walletA)

	i, err := svc.Create(context.Background(), agent, CreateRequest{Details: validDetails()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// 非归属用户与非归属代理都应拿到 Forbidden。
	if _, err := svc.UpdateStatus(context.Background(), identity.User(walletB), i.ID, UpdateRequest{Status: StatusApproved}); xerrors.CodeOf(err) != xerrors.CodeForbidden {
		t.Fatalf("他人用户应返回 Forbidden，实际: %v", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), identity.Agent("member-9", walletB), i.ID, UpdateRequest{Status: StatusFailed}); xerrors.CodeOf(err) != xerrors.CodeForbidden {
		t.Fatalf("他链代理应返回 Forbidden，实际: %v", err)
	}
}

func TestCapabilityMatrix(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	svc, _ := newTestService(t, &now)
	agent := identity.Agent("member-1", walletA)
	user := identity.User(walletA)

	i, err := svc.Create(context.Background(), agent, CreateRequest{Details: validDetails()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// 代理不能执行用户侧状态，即便拥有该意图；错误消息列出允许集。
	_, err = svc.UpdateStatus(context.Background(), agent, i.ID, UpdateRequest{Status: StatusApproved})
	if xerrors.CodeOf(err) != xerrors.CodeForbidden {
		t.Fatalf("代理设置 approved 应返回 Forbidden，实际: %v", err)
	}
	if msg := xerrors.MessageOf(err); !strings.Contains(msg, "confirmed") {
		t.Fatalf("Forbidden 消息应列出代理允许集: %s", msg)
	}

	_, err = svc.UpdateStatus(context.Background(), user, i.ID, UpdateRequest{Status: StatusConfirmed})
	if xerrors.CodeOf(err) != xerrors.CodeForbidden {
		t.Fatalf("用户设置 confirmed 应返回 Forbidden，实际: %v", err)
	}

	// 未识别状态在授权之前就被拒绝，错误类别与 Forbidden 区分。
	_, err = svc.UpdateStatus(context.Background(), identity.User(walletB), i.ID, UpdateRequest{Status: Status("settled")})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("未知状态应返回 InvalidArgument，实际: %v", err)
	}
}

func TestUpdateStatusNotFound(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	svc, _ := newTestService(t, &now)

	_, err := svc.UpdateStatus(context.Background(), identity.User(walletA), "int_missing", UpdateRequest{Status: StatusApproved})
	if !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("不存在的意图应返回 NotFound，实际: %v", err)
	}
}

// gatedStore 让两个并发 UpdateStatus 都在写入前完成读取，
// 保证它们携带同一个期望状态进入条件写。
type gatedStore struct {
	Store
	gate *sync.WaitGroup
}

func (g *gatedStore) Get(ctx context.Context, id string) (*Intent, error) {
	i, err := g.Store.Get(ctx, id)
	g.gate.Done()
	g.gate.Wait()
	return i, err
}

func TestConcurrentUpdateExactlyOneWins(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	agent := identity.Agent("member-1", walletA)
	user := identity.User(walletA)

	backing := NewMemoryStore()
	var gate sync.WaitGroup
	gate.Add(2)
	svc := NewService(&gatedStore{Store: backing, gate: &gate}, NewMemoryPublisher(), ratelimit.NopLimiter{}, testChains(t),
		WithClock(func() time.Time { return now }))

	i, err := svc.Create(context.Background(), agent, CreateRequest{Details: validDetails()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// 同一 pending 状态上的两个并发转移：恰好一个获胜，
	// 另一个观察到 StatusConflict。
	targets := []Status{StatusApproved, StatusRejected}
	results := make([]error, len(targets))
	var wg sync.WaitGroup
	wg.Add(len(targets))
	for idx, target := range targets {
		go func(idx int, target Status) {
			defer wg.Done()
			_, results[idx] = svc.UpdateStatus(context.Background(), user, i.ID, UpdateRequest{Status: target})
		}(idx, target)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrStatusConflict):
			conflicts++
		default:
			t.Fatalf("意外的错误: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("应恰好一胜一冲突，实际 wins=%d conflicts=%d", wins, conflicts)
	}
}

func TestX402MergePreservesEarlierFields(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	svc, _ := newTestService(t, &now)
	agent := identity.Agent("member-1", walletA)
	user := identity.User(walletA)

	i, err := svc.Create(context.Background(), agent, CreateRequest{Details: validDetails()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	mustUpdate := func(caller identity.Identity, req UpdateRequest) *Intent {
		t.Helper()
		out, err := svc.UpdateStatus(context.Background(), caller, i.ID, req)
		if err != nil {
			t.Fatalf("UpdateStatus(%s): %v", req.Status, err)
		}
		return out
	}

	mustUpdate(user, UpdateRequest{Status: StatusApproved})
	mustUpdate(user, UpdateRequest{Status: StatusBroadcasting})
	mustUpdate(user, UpdateRequest{
		Status:                 StatusAuthorized,
		PaymentSignatureHeader: "x-payment: secret",
		PaymentPayload: &X402PaymentPayload{
			Authorization: TransferAuthorization{From: walletA, To: recipient, Value: "12500000"},
			Signature:     "0xsig",
		},
	})
	mustUpdate(agent, UpdateRequest{Status: StatusExecuting})
	final := mustUpdate(agent, UpdateRequest{
		Status:            StatusConfirmed,
		SettlementReceipt: &X402Receipt{TxHash: "0xreceipt", Network: "base"},
	})

	x := final.Details.X402
	if x == nil {
		t.Fatal("x402 详情丢失")
	}
	if x.PaymentSignatureHeader != "x-payment: secret" || x.PaymentPayload == nil {
		t.Fatalf("后续合并不应丢弃先前的支付字段: %+v", x)
	}
	if x.SettlementReceipt == nil || x.SettlementReceipt.TxHash != "0xreceipt" {
		t.Fatalf("回执应被合并: %+v", x)
	}

	// 读取边界：归属代理全量，会话用户擦除。
	full, err := svc.Get(context.Background(), agent, i.ID)
	if err != nil {
		t.Fatalf("Get(agent): %v", err)
	}
	if full.Details.X402.PaymentSignatureHeader == "" {
		t.Fatal("归属代理读取应包含支付秘密")
	}
	redacted, err := svc.Get(context.Background(), user, i.ID)
	if err != nil {
		t.Fatalf("Get(user): %v", err)
	}
	if redacted.Details.X402.PaymentSignatureHeader != "" || redacted.Details.X402.PaymentPayload != nil {
		t.Fatal("会话用户读取应擦除支付秘密")
	}
	if redacted.Details.X402.SettlementReceipt == nil {
		t.Fatal("会话用户读取应保留回执")
	}
}

func TestExpiredIntentOnlyReachesTerminals(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	svc, _ := newTestService(t, &now)
	agent := identity.Agent("member-1", walletA)
	user := identity.User(walletA)

	i, err := svc.Create(context.Background(), agent, CreateRequest{Details: validDetails()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	now = now.Add(DefaultExpiry + time.Hour)
	if _, err := svc.UpdateStatus(context.Background(), user, i.ID, UpdateRequest{Status: StatusApproved}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("过期意图的非终态转移应被拒绝，实际: %v", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), user, i.ID, UpdateRequest{Status: StatusRejected}); err != nil {
		t.Fatalf("过期意图仍可收束到终态: %v", err)
	}
}

func TestListByUser(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	svc, _ := newTestService(t, &now)
	agent := identity.Agent("member-1", walletA)
	user := identity.User(walletA)

	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		if _, err := svc.Create(context.Background(), agent, CreateRequest{Details: validDetails()}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	items, err := svc.ListByUser(context.Background(), user, walletA, "", 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("应返回 3 条，实际 %d", len(items))
	}
	for j := 1; j < len(items); j++ {
		if items[j-1].CreatedAt < items[j].CreatedAt {
			t.Fatal("列表应按创建时间倒序")
		}
	}

	items, err = svc.ListByUser(context.Background(), user, walletA, "", 2)
	if err != nil {
		t.Fatalf("ListByUser(limit): %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("limit=2 应返回 2 条，实际 %d", len(items))
	}

	if _, err := svc.ListByUser(context.Background(), identity.User(walletB), walletA, "", 0); xerrors.CodeOf(err) != xerrors.CodeForbidden {
		t.Fatalf("他人列表应返回 Forbidden，实际: %v", err)
	}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, ev alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func TestFailedTransitionDispatchesAlert(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	agent := identity.Agent("member-1", walletA)
	user := identity.User(walletA)

	alerts := &recordingDispatcher{}
	svc := NewService(NewMemoryStore(), NewMemoryPublisher(), ratelimit.NopLimiter{}, testChains(t),
		WithClock(func() time.Time { return now }),
		WithAlerts(alerts))

	i, err := svc.Create(context.Background(), agent, CreateRequest{Details: validDetails()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, status := range []Status{StatusApproved, StatusBroadcasting} {
		if _, err := svc.UpdateStatus(context.Background(), user, i.ID, UpdateRequest{Status: status}); err != nil {
			t.Fatalf("UpdateStatus(%s): %v", status, err)
		}
	}
	if len(alerts.events) != 0 {
		t.Fatalf("非失败转移不应触发告警，实际 %d 次", len(alerts.events))
	}

	if _, err := svc.UpdateStatus(context.Background(), agent, i.ID, UpdateRequest{Status: StatusFailed, Note: "gas too low"}); err != nil {
		t.Fatalf("UpdateStatus(failed): %v", err)
	}
	if len(alerts.events) != 1 {
		t.Fatalf("失败转移应触发一次告警，实际 %d 次", len(alerts.events))
	}
	ev := alerts.events[0]
	if ev.IntentID != i.ID || ev.Status != string(StatusFailed) || ev.Message != "gas too low" {
		t.Fatalf("告警事件字段不符: %+v", ev)
	}
}

func TestListByUserStatusFilter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	svc, _ := newTestService(t, &now)
	agent := identity.Agent("member-1", walletA)
	user := identity.User(walletA)

	var ids []string
	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		created, err := svc.Create(context.Background(), agent, CreateRequest{Details: validDetails()})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, created.ID)
	}
	if _, err := svc.UpdateStatus(context.Background(), user, ids[0], UpdateRequest{Status: StatusApproved}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	approved, err := svc.ListByUser(context.Background(), user, walletA, StatusApproved, 0)
	if err != nil {
		t.Fatalf("ListByUser(approved): %v", err)
	}
	if len(approved) != 1 || approved[0].ID != ids[0] {
		t.Fatalf("approved 过滤结果不符: %+v", approved)
	}

	pending, err := svc.ListByUser(context.Background(), user, walletA, StatusPending, 0)
	if err != nil {
		t.Fatalf("ListByUser(pending): %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending 应剩 2 条，实际 %d", len(pending))
	}

	if _, err := svc.ListByUser(context.Background(), user, walletA, Status("bogus"), 0); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("未知状态过滤应返回 InvalidArgument，实际: %v", err)
	}
}

func TestCreateExpiryOverride(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	svc, _ := newTestService(t, &now)
	agent := identity.Agent("member-1", walletA)

	i, err := svc.Create(context.Background(), agent, CreateRequest{Details: validDetails(), ExpiresInMinutes: 30})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if want := now.Add(30 * time.Minute).Unix(); i.ExpiresAt != want {
		t.Fatalf("过期时间应为 %d，实际 %d", want, i.ExpiresAt)
	}

	i, err = svc.Create(context.Background(), agent, CreateRequest{Details: validDetails()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if want := now.Add(DefaultExpiry).Unix(); i.ExpiresAt != want {
		t.Fatalf("默认过期时间应为 %d，实际 %d", want, i.ExpiresAt)
	}

	// 307445735 分钟换算成 Duration 会在 int64 上回绕成约 26 秒的
	// 小正数，范围校验必须发生在整数域。
	for _, minutes := range []int{-5, 7*24*60 + 1, 307445735} {
		if _, err := svc.Create(context.Background(), agent, CreateRequest{Details: validDetails(), ExpiresInMinutes: minutes}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
			t.Fatalf("expiresInMinutes=%d 应返回 InvalidArgument，实际: %v", minutes, err)
		}
	}
}
