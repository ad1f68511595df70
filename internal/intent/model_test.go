package intent

import "testing"

func TestTransitionTable(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusPending, StatusApproved},
		{StatusPending, StatusRejected},
		{StatusPending, StatusExpired},
		{StatusApproved, StatusBroadcasting},
		{StatusApproved, StatusRejected},
		{StatusBroadcasting, StatusAuthorized},
		{StatusBroadcasting, StatusConfirmed},
		{StatusBroadcasting, StatusFailed},
		{StatusAuthorized, StatusExecuting},
		{StatusAuthorized, StatusFailed},
		{StatusExecuting, StatusConfirmed},
		{StatusExecuting, StatusFailed},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s 应为合法转移", tc.from, tc.to)
		}
	}

	// 表之外的任何组合都不合法。
	all := []Status{
		StatusPending, StatusApproved, StatusBroadcasting, StatusAuthorized,
		StatusExecuting, StatusConfirmed, StatusRejected, StatusFailed, StatusExpired,
	}
	legalSet := make(map[[2]Status]bool, len(legal))
	for _, tc := range legal {
		legalSet[[2]Status{tc.from, tc.to}] = true
	}
	for _, from := range all {
		for _, to := range all {
			if legalSet[[2]Status{from, to}] {
				continue
			}
			if CanTransition(from, to) {
				t.Errorf("%s -> %s 不应为合法转移", from, to)
			}
		}
	}
}

func TestApprovedToConfirmedIsIllegal(t *testing.T) {
	if CanTransition(StatusApproved, StatusConfirmed) {
		t.Fatal("approved 不能直接到 confirmed，必须经过 broadcasting 或 x402 路径")
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []Status{StatusConfirmed, StatusRejected, StatusFailed, StatusExpired} {
		if !IsTerminal(s) {
			t.Errorf("%s 应为终态", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusApproved, StatusBroadcasting, StatusAuthorized, StatusExecuting} {
		if IsTerminal(s) {
			t.Errorf("%s 不应为终态", s)
		}
	}
}

func TestCapabilitySets(t *testing.T) {
	for _, s := range []Status{StatusExecuting, StatusConfirmed, StatusFailed} {
		if !AgentMaySet(s) {
			t.Errorf("代理应可设置 %s", s)
		}
		if UserMaySet(s) {
			t.Errorf("用户不应可设置 %s", s)
		}
	}
	for _, s := range []Status{StatusApproved, StatusRejected, StatusAuthorized, StatusBroadcasting} {
		if !UserMaySet(s) {
			t.Errorf("用户应可设置 %s", s)
		}
		if AgentMaySet(s) {
			t.Errorf("代理不应可设置 %s", s)
		}
	}
	// pending 与 expired 任何身份都不能直接设置。
	for _, s := range []Status{StatusPending, StatusExpired} {
		if AgentMaySet(s) || UserMaySet(s) {
			t.Errorf("%s 不应被任何身份直接设置", s)
		}
	}
}

func TestIsValidStatus(t *testing.T) {
	if !IsValidStatus(StatusPending) || !IsValidStatus(StatusConfirmed) {
		t.Fatal("已知状态应被识别")
	}
	if IsValidStatus(Status("settled")) || IsValidStatus(Status("")) {
		t.Fatal("未知状态不应被识别")
	}
}

func TestCloneIsDeep(t *testing.T) {
	original := &Intent{
		ID:     "int_1",
		Status: StatusAuthorized,
		StatusHistory: []HistoryEntry{
			{Status: StatusPending, At: 1},
			{Status: StatusAuthorized, At: 2},
		},
		Details: Details{
			Token: "USDC",
			X402: &X402Details{
				Resource:               &X402Resource{URL: "https://api.example/paid"},
				PaymentSignatureHeader: "secret-header",
				PaymentPayload:         &X402PaymentPayload{Signature: "0xsig"},
			},
		},
	}

	clone := original.Clone()
	clone.StatusHistory[0].Note = "mutated"
	clone.Details.X402.PaymentSignatureHeader = ""
	clone.Details.X402.Resource.URL = "https://evil.example"

	if original.StatusHistory[0].Note != "" {
		t.Fatal("克隆的历史修改不应影响原对象")
	}
	if original.Details.X402.PaymentSignatureHeader != "secret-header" {
		t.Fatal("克隆的 x402 修改不应影响原对象")
	}
	if original.Details.X402.Resource.URL != "https://api.example/paid" {
		t.Fatal("克隆的 resource 修改不应影响原对象")
	}
}
