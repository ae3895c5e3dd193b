package game

import (
	"github.com/wfunc/trpg-server/internal/errors"
)

// actionQueue 会话内的行动队列
// 非并发安全，所有调用都在会话锁内进行
type actionQueue struct {
	actions []*QueuedAction
	nextID  int64
}

func newActionQueue() *actionQueue {
	return &actionQueue{nextID: 1}
}

// Len 队列长度
func (q *actionQueue) Len() int {
	return len(q.actions)
}

// Append 追加一条行动，分配递增ID和末尾序号
func (q *actionQueue) Append(action *QueuedAction) *QueuedAction {
	action.ID = q.nextID
	q.nextID++
	action.Order = len(q.actions) + 1
	q.actions = append(q.actions, action)
	return action
}

// Find 按ID查找
func (q *actionQueue) Find(id int64) *QueuedAction {
	for _, a := range q.actions {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// Edit 修改行动文本
func (q *actionQueue) Edit(id int64, text string) error {
	a := q.Find(id)
	if a == nil {
		return errors.New(errors.ErrActionNotFound)
	}
	a.ActionText = text
	return nil
}

// Remove 按ID删除并重排剩余序号
func (q *actionQueue) Remove(id int64) error {
	for i, a := range q.actions {
		if a.ID == id {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			q.renumber()
			return nil
		}
	}
	return errors.New(errors.ErrActionNotFound)
}

// Reorder 按给定ID序列重排队列
// ID序列必须恰好是当前队列的一个排列，否则视为基于过期队列的请求
func (q *actionQueue) Reorder(orderedIDs []int64) error {
	if len(orderedIDs) != len(q.actions) {
		return errors.New(errors.ErrStaleQueue)
	}

	byID := make(map[int64]*QueuedAction, len(q.actions))
	for _, a := range q.actions {
		byID[a.ID] = a
	}

	reordered := make([]*QueuedAction, 0, len(orderedIDs))
	seen := make(map[int64]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		a, ok := byID[id]
		if !ok || seen[id] {
			return errors.New(errors.ErrStaleQueue)
		}
		seen[id] = true
		reordered = append(reordered, a)
	}

	q.actions = reordered
	q.renumber()
	return nil
}

// Drain 取出全部行动并清空队列
func (q *actionQueue) Drain() []*QueuedAction {
	drained := q.actions
	q.actions = nil
	return drained
}

// Snapshot 复制当前队列（广播用）
func (q *actionQueue) Snapshot() []*QueuedAction {
	out := make([]*QueuedAction, len(q.actions))
	for i, a := range q.actions {
		c := *a
		out[i] = &c
	}
	return out
}

// renumber 序号重排为1..N
func (q *actionQueue) renumber() {
	for i, a := range q.actions {
		a.Order = i + 1
	}
}
