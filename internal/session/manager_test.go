package session

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const testDomain = "intentchain.local"

func newTestManager(t *testing.T, now *time.Time) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	mgr := NewManager(store, testDomain, WithClock(func() time.Time { return *now }))
	return mgr, store
}

func newWallet(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("生成密钥失败: %v", err)
	}
	addr := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
	return key, addr
}

func signMessage(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatalf("签名失败: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func TestChallengeRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mgr, _ := newTestManager(t, &now)
	key, addr := newWallet(t)

	c, message, err := mgr.IssueChallenge(context.Background(), addr, 8453)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	if c.WalletAddress != addr {
		t.Fatalf("钱包地址未归一化: %s", c.WalletAddress)
	}
	if want := "Welcome to " + testDomain + "\n\nNonce: " + c.Nonce; message != want {
		t.Fatalf("挑战消息不符: %q", message)
	}

	sess, err := mgr.VerifyAndEstablishSession(context.Background(), c.ID, signMessage(t, key, message))
	if err != nil {
		t.Fatalf("VerifyAndEstablishSession: %v", err)
	}
	if sess.WalletAddress != addr {
		t.Fatalf("会话钱包不符: %s", sess.WalletAddress)
	}
	if sess.ExpiresAt != now.Unix()+int64(SessionTTL/time.Second) {
		t.Fatalf("会话过期时间不符: %d", sess.ExpiresAt)
	}

	id, err := mgr.RequireSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("RequireSession: %v", err)
	}
	if !id.IsUser() || id.WalletAddress != addr {
		t.Fatalf("还原的身份不符: %+v", id)
	}
}

func TestChallengeSingleUse(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mgr, _ := newTestManager(t, &now)
	key, addr := newWallet(t)

	c, message, err := mgr.IssueChallenge(context.Background(), addr, 1)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	sig := signMessage(t, key, message)

	if _, err := mgr.VerifyAndEstablishSession(context.Background(), c.ID, sig); err != nil {
		t.Fatalf("首次验证应成功: %v", err)
	}
	if _, err := mgr.VerifyAndEstablishSession(context.Background(), c.ID, sig); !errors.Is(err, ErrChallengeConsumed) {
		t.Fatalf("重放应返回 ErrChallengeConsumed，实际: %v", err)
	}
}

func TestConcurrentVerifyCreatesOneSession(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mgr, store := newTestManager(t, &now)
	key, addr := newWallet(t)

	c, message, err := mgr.IssueChallenge(context.Background(), addr, 1)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	sig := signMessage(t, key, message)

	const workers = 16
	var wg sync.WaitGroup
	var okCount int32
	var mu sync.Mutex
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := mgr.VerifyAndEstablishSession(context.Background(), c.ID, sig); err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if okCount != 1 {
		t.Fatalf("并发验证应恰好成功一次，实际 %d 次", okCount)
	}
	if got := store.SessionCount(); got != 1 {
		t.Fatalf("应恰好创建一个会话，实际 %d", got)
	}
}

func TestWrongSignerDoesNotBurnChallenge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mgr, _ := newTestManager(t, &now)
	key, addr := newWallet(t)
	otherKey, _ := newWallet(t)

	c, message, err := mgr.IssueChallenge(context.Background(), addr, 1)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}

	if _, err := mgr.VerifyAndEstablishSession(context.Background(), c.ID, signMessage(t, otherKey, message)); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("他人签名应返回 ErrSignatureMismatch，实际: %v", err)
	}

	// 签名失败不消费挑战，正确签名仍可登录。
	if _, err := mgr.VerifyAndEstablishSession(context.Background(), c.ID, signMessage(t, key, message)); err != nil {
		t.Fatalf("正确签名应成功: %v", err)
	}
}

func TestExpiredChallengeRejected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mgr, _ := newTestManager(t, &now)
	key, addr := newWallet(t)

	c, message, err := mgr.IssueChallenge(context.Background(), addr, 1)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}

	now = now.Add(ChallengeTTL + time.Second)
	if _, err := mgr.VerifyAndEstablishSession(context.Background(), c.ID, signMessage(t, key, message)); !errors.Is(err, ErrChallengeConsumed) {
		t.Fatalf("过期挑战应返回 ErrChallengeConsumed，实际: %v", err)
	}
}

func TestTamperedMessageRejected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mgr, _ := newTestManager(t, &now)
	key, addr := newWallet(t)

	c, _, err := mgr.IssueChallenge(context.Background(), addr, 1)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}

	// 对客户端自拟的消息签名不应被采信，服务端只认自己重建的消息。
	forged := "Welcome to evil.example\n\nNonce: " + c.Nonce
	if _, err := mgr.VerifyAndEstablishSession(context.Background(), c.ID, signMessage(t, key, forged)); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("伪造消息应返回 ErrSignatureMismatch，实际: %v", err)
	}
}

func TestSessionExpiryAndRevoke(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mgr, _ := newTestManager(t, &now)
	key, addr := newWallet(t)

	c, message, err := mgr.IssueChallenge(context.Background(), addr, 1)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	sess, err := mgr.VerifyAndEstablishSession(context.Background(), c.ID, signMessage(t, key, message))
	if err != nil {
		t.Fatalf("VerifyAndEstablishSession: %v", err)
	}

	now = now.Add(SessionTTL + time.Second)
	if _, err := mgr.RequireSession(context.Background(), sess.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("过期会话应返回 ErrUnauthorized，实际: %v", err)
	}

	if err := mgr.RevokeSession(context.Background(), sess.ID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if _, err := mgr.RequireSession(context.Background(), sess.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("撤销后应返回 ErrUnauthorized，实际: %v", err)
	}
}

func TestRequireSessionUnknownID(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mgr, _ := newTestManager(t, &now)

	if _, err := mgr.RequireSession(context.Background(), ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("空会话 ID 应返回 ErrUnauthorized，实际: %v", err)
	}
	if _, err := mgr.RequireSession(context.Background(), "no-such-session"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("未知会话应返回 ErrUnauthorized，实际: %v", err)
	}
}
