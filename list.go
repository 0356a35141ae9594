package scheduler

import (
	"time"
)

// taskList is an intrusive doubly-linked list of tasks, linked via
// Task.prev and Task.next. A task is a member of at most one list.
type taskList struct {
	head *Task
	tail *Task
	size int
}

func (l *taskList) pushBack(t *Task) {
	t.prev = l.tail
	t.next = nil
	if l.tail == nil {
		l.head = t
	} else {
		l.tail.next = t
	}
	l.tail = t
	l.size++
}

// insertSorted inserts t after every task due at or before t.queueTime,
// walking from the tail, which is O(1) for monotonically increasing due
// times.
func (l *taskList) insertSorted(t *Task) {
	at := l.tail
	for at != nil && at.queueTime.After(t.queueTime) {
		at = at.prev
	}
	if at == nil {
		t.prev = nil
		t.next = l.head
		if l.head == nil {
			l.tail = t
		} else {
			l.head.prev = t
		}
		l.head = t
		l.size++
		return
	}
	t.prev = at
	t.next = at.next
	if at.next == nil {
		l.tail = t
	} else {
		at.next.prev = t
	}
	at.next = t
	l.size++
}

// unlink detaches t, which must be a member of l.
func (l *taskList) unlink(t *Task) {
	if t.prev == nil {
		l.head = t.next
	} else {
		t.prev.next = t.next
	}
	if t.next == nil {
		l.tail = t.prev
	} else {
		t.next.prev = t.prev
	}
	t.prev = nil
	t.next = nil
	l.size--
}

func (l *taskList) contains(t *Task) bool {
	for v := l.head; v != nil; v = v.next {
		if v == t {
			return true
		}
	}
	return false
}

// remove unlinks t if it is a member of l, reporting whether it was.
func (l *taskList) remove(t *Task) bool {
	if !l.contains(t) {
		return false
	}
	l.unlink(t)
	return true
}

// spliceAll moves every task from src onto the tail of l, in O(1).
func (l *taskList) spliceAll(src *taskList) {
	if src.head == nil {
		return
	}
	if l.tail == nil {
		l.head = src.head
	} else {
		l.tail.next = src.head
		src.head.prev = l.tail
	}
	l.tail = src.tail
	l.size += src.size
	*src = taskList{}
}

// spliceDue moves the leading run of tasks from src that are due at now onto
// the tail of l, stopping at the first task that is not yet due.
func (l *taskList) spliceDue(src *taskList, now time.Time) {
	var (
		last  *Task
		count int
	)
	for v := src.head; v != nil && !v.queueTime.After(now); v = v.next {
		last = v
		count++
	}
	if last == nil {
		return
	}
	first := src.head
	src.head = last.next
	if src.head == nil {
		src.tail = nil
	} else {
		src.head.prev = nil
	}
	src.size -= count
	last.next = nil
	if l.tail == nil {
		l.head = first
	} else {
		l.tail.next = first
		first.prev = l.tail
	}
	l.tail = last
	l.size += count
}

// hasFinite reports whether any member is not persistent.
func (l *taskList) hasFinite() bool {
	for v := l.head; v != nil; v = v.next {
		if !v.persistent {
			return true
		}
	}
	return false
}
