package chain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"

	xerrors "IntentChain/internal/errors"
)

// Definition 描述一条受支持的链。RPCURL 可选，留空时该链仅参与
// 合法性校验，不提供健康快照。
type Definition struct {
	ChainID      int64  `yaml:"chainId" json:"chainId"`
	Name         string `yaml:"name" json:"name"`
	RPCURL       string `yaml:"rpcUrl" json:"rpcUrl"`
	NativeSymbol string `yaml:"nativeSymbol" json:"nativeSymbol"`
}

// Snapshot 是链的轻量健康信息。
type Snapshot struct {
	ChainID     int64  `json:"chainId"`
	Name        string `json:"name"`
	BlockNumber uint64 `json:"blockNumber"`
	Reachable   bool   `json:"reachable"`
}

// Registry 管理受支持链的定义与可选的 RPC 客户端。
type Registry struct {
	mu      sync.Mutex
	defs    map[int64]Definition
	clients map[int64]*ethclient.Client
}

// NewRegistry 根据链定义构造注册表。dialRPC 为 true 时会为配置了
// RPCURL 的链建立客户端连接，失败的连接只记为不可达，不阻塞启动。
func NewRegistry(ctx context.Context, defs []Definition, dialRPC bool) (*Registry, error) {
	if len(defs) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置任何受支持的链")
	}

	r := &Registry{
		defs:    make(map[int64]Definition, len(defs)),
		clients: make(map[int64]*ethclient.Client),
	}
	for _, def := range defs {
		if def.ChainID <= 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("链 ID 不合法: %d", def.ChainID))
		}
		if _, exists := r.defs[def.ChainID]; exists {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("链 ID 重复: %d", def.ChainID))
		}
		r.defs[def.ChainID] = def

		if dialRPC && strings.TrimSpace(def.RPCURL) != "" {
			client, err := ethclient.DialContext(ctx, def.RPCURL)
			if err != nil {
				continue
			}
			r.clients[def.ChainID] = client
		}
	}
	return r, nil
}

// Validate 校验链 ID 是否受支持。
func (r *Registry) Validate(chainID int64) error {
	if r == nil {
		return xerrors.New(xerrors.CodeServiceUnavailable, "链注册表未初始化")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[chainID]; !ok {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("Unsupported chain: %d", chainID))
	}
	return nil
}

// Get 返回链定义。
func (r *Registry) Get(chainID int64) (Definition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[chainID]
	return def, ok
}

// IDs 返回受支持链 ID 的有序列表。
func (r *Registry) IDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshots 采集各链的健康快照，供 /api/health 使用。没有客户端的
// 链标记为不可达但仍出现在结果里。
func (r *Registry) Snapshots(ctx context.Context) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.defs))
	for _, id := range r.idsLocked() {
		def := r.defs[id]
		snap := Snapshot{ChainID: id, Name: def.Name}
		if client, ok := r.clients[id]; ok {
			if block, err := client.BlockNumber(ctx); err == nil {
				snap.BlockNumber = block
				snap.Reachable = true
			}
		}
		out = append(out, snap)
	}
	return out
}

func (r *Registry) idsLocked() []int64 {
	ids := make([]int64, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close 释放所有 RPC 客户端。
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, id)
	}
}
