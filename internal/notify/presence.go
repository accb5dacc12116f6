package notify

import "sync"

// Presence 维护接收者到活动连接集合的并发映射。
// 同一个接收者允许多条并发连接（多标签页、多设备），因此值是集合
// 而不是单个连接句柄。Presence 只做在线状态记账，不承担投递语义；
// 它是进程内状态，进程重启后由新连接重新建立。
type Presence struct {
	mu    sync.RWMutex
	conns map[uint]map[Conn]struct{}
}

// NewPresence 构造空的在线状态注册表。
func NewPresence() *Presence {
	return &Presence{
		conns: make(map[uint]map[Conn]struct{}),
	}
}

// Register 将连接加入接收者的连接集合。重复注册同一句柄是无害的空操作。
func (p *Presence) Register(recipientID uint, conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[recipientID]
	if !ok {
		set = make(map[Conn]struct{})
		p.conns[recipientID] = set
	}
	set[conn] = struct{}{}
}

// Deregister 将连接移出接收者的连接集合。重复注销是无害的空操作。
func (p *Presence) Deregister(recipientID uint, conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[recipientID]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(p.conns, recipientID)
	}
}

// IsOnline 报告接收者当前是否存在至少一条活动连接。
func (p *Presence) IsOnline(recipientID uint) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns[recipientID]) > 0
}

// ConnectionsOf 返回接收者当前连接集合的快照。
func (p *Presence) ConnectionsOf(recipientID uint) []Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	set := p.conns[recipientID]
	if len(set) == 0 {
		return nil
	}
	conns := make([]Conn, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	return conns
}
