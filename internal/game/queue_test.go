package game

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wfunc/trpg-server/internal/errors"
)

func newTestQueue(texts ...string) *actionQueue {
	q := newActionQueue()
	for i, text := range texts {
		q.Append(&QueuedAction{
			PlayerID:      uint(i + 1),
			CharacterID:   uint(i + 1),
			CharacterName: "角色",
			ActionText:    text,
		})
	}
	return q
}

// TestQueueAppend 测试追加分配递增ID和连续序号
func TestQueueAppend(t *testing.T) {
	q := newTestQueue("攻击", "潜行", "说服")

	assert.Equal(t, 3, q.Len())
	for i, a := range q.actions {
		assert.Equal(t, int64(i+1), a.ID)
		assert.Equal(t, i+1, a.Order)
	}
}

// TestQueueEdit 测试编辑行动文本
func TestQueueEdit(t *testing.T) {
	q := newTestQueue("攻击")

	assert.NoError(t, q.Edit(1, "撤退"))
	assert.Equal(t, "撤退", q.Find(1).ActionText)

	err := q.Edit(99, "x")
	assert.True(t, errors.Is(err, errors.ErrActionNotFound))
}

// TestQueueRemove 测试删除后序号重排
func TestQueueRemove(t *testing.T) {
	q := newTestQueue("a", "b", "c")

	assert.NoError(t, q.Remove(2))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, int64(1), q.actions[0].ID)
	assert.Equal(t, int64(3), q.actions[1].ID)
	assert.Equal(t, 1, q.actions[0].Order)
	assert.Equal(t, 2, q.actions[1].Order)

	err := q.Remove(2)
	assert.True(t, errors.Is(err, errors.ErrActionNotFound))
}

// TestQueueReorder 测试重排
func TestQueueReorder(t *testing.T) {
	q := newTestQueue("a", "b", "c")

	assert.NoError(t, q.Reorder([]int64{3, 1, 2}))
	assert.Equal(t, int64(3), q.actions[0].ID)
	assert.Equal(t, int64(1), q.actions[1].ID)
	assert.Equal(t, int64(2), q.actions[2].ID)
	assert.Equal(t, 1, q.actions[0].Order)
	assert.Equal(t, 3, q.actions[2].Order)
}

// TestQueueReorderStale 测试基于过期队列的重排请求
func TestQueueReorderStale(t *testing.T) {
	q := newTestQueue("a", "b", "c")

	// 数量不符
	err := q.Reorder([]int64{1, 2})
	assert.True(t, errors.Is(err, errors.ErrStaleQueue))

	// 含未知ID
	err = q.Reorder([]int64{1, 2, 99})
	assert.True(t, errors.Is(err, errors.ErrStaleQueue))

	// 重复ID
	err = q.Reorder([]int64{1, 2, 2})
	assert.True(t, errors.Is(err, errors.ErrStaleQueue))

	// 失败的重排不改变队列
	assert.Equal(t, int64(1), q.actions[0].ID)
}

// TestQueueReorderRace 两个基于同一旧视图的重排，后到的只要仍是当前集合的排列就接受
func TestQueueReorderRace(t *testing.T) {
	q := newTestQueue("a", "b", "c")

	assert.NoError(t, q.Reorder([]int64{2, 3, 1}))
	// 第二个请求者基于原始顺序发出的重排，集合未变，仍然接受
	assert.NoError(t, q.Reorder([]int64{3, 2, 1}))
	assert.Equal(t, int64(3), q.actions[0].ID)
}

// TestQueueDrain 测试提交时取空队列
func TestQueueDrain(t *testing.T) {
	q := newTestQueue("a", "b")

	drained := q.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, q.Len())

	// 清空后新行动的ID继续递增，不复用
	a := q.Append(&QueuedAction{ActionText: "c"})
	assert.Equal(t, int64(3), a.ID)
	assert.Equal(t, 1, a.Order)
}

// TestQueueSnapshot 快照是深拷贝
func TestQueueSnapshot(t *testing.T) {
	q := newTestQueue("a")
	snap := q.Snapshot()
	snap[0].ActionText = "改掉"
	assert.Equal(t, "a", q.Find(1).ActionText)
}
