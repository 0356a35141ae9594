package hostloop

import (
	"sync"
)

// chunkSize is the number of callbacks per node in a chunkedQueue.
const chunkSize = 128

// chunkedQueue is a chunked linked-list FIFO of callbacks. It is not safe
// for concurrent use; the loop guards it with its mutex.
type chunkedQueue struct {
	head   *chunk
	tail   *chunk
	length int
}

// chunk is a fixed-size node, using read and write cursors for O(1)
// push and pop.
type chunk struct {
	tasks   [chunkSize]func()
	next    *chunk
	readPos int
	pos     int
}

var chunkPool = sync.Pool{
	New: func() any {
		return &chunk{}
	},
}

func newChunk() *chunk {
	c := chunkPool.Get().(*chunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnChunk clears any remaining slots, so closures aren't retained.
func returnChunk(c *chunk) {
	clear(c.tasks[:c.pos])
	c.pos = 0
	c.readPos = 0
	c.next = nil
	chunkPool.Put(c)
}

func (q *chunkedQueue) Push(task func()) {
	if q.tail == nil {
		q.tail = newChunk()
		q.head = q.tail
	}
	if q.tail.pos == len(q.tail.tasks) {
		next := newChunk()
		q.tail.next = next
		q.tail = next
	}
	q.tail.tasks[q.tail.pos] = task
	q.tail.pos++
	q.length++
}

func (q *chunkedQueue) Pop() (func(), bool) {
	if q.length == 0 {
		return nil, false
	}
	task := q.head.tasks[q.head.readPos]
	q.head.tasks[q.head.readPos] = nil
	q.head.readPos++
	q.length--
	if q.head.readPos >= q.head.pos {
		if q.head == q.tail {
			// reuse the sole chunk
			q.head.pos = 0
			q.head.readPos = 0
		} else {
			old := q.head
			q.head = q.head.next
			returnChunk(old)
		}
	}
	return task, true
}

func (q *chunkedQueue) Len() int {
	return q.length
}
