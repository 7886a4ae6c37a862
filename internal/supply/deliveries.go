package supply

import (
	"assembly-line-sim/internal/types"
)

// delivery 一次在途补货
type delivery struct {
	station types.StationID
	due     int64 // 到货轮次
	seq     int64 // 同一轮到货时按下单顺序
	index   int
}

// deliveryQueue 实现了 heap.Interface 接口，是一个按到货轮次排序的最小堆
type deliveryQueue []*delivery

func (q deliveryQueue) Len() int { return len(q) }

// Less 先到货的先出；同一轮按下单顺序，保证回放确定
func (q deliveryQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}

func (q deliveryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *deliveryQueue) Push(x interface{}) {
	d := x.(*delivery)
	d.index = len(*q)
	*q = append(*q, d)
}

func (q *deliveryQueue) Pop() interface{} {
	old := *q
	n := len(old)
	d := old[n-1]
	old[n-1] = nil // 避免内存泄漏
	d.index = -1
	*q = old[:n-1]
	return d
}

// peek 最早到货的一单，队列为空时返回 nil
func (q deliveryQueue) peek() *delivery {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}
