package scheduler

import (
	"testing"
	"time"
)

func listIDs(l *taskList) []uint64 {
	var ids []uint64
	var prev *Task
	for v := l.head; v != nil; v = v.next {
		if v.prev != prev {
			panic(`broken prev link`)
		}
		prev = v
		ids = append(ids, v.id)
	}
	if l.tail != prev {
		panic(`broken tail`)
	}
	if len(ids) != l.size {
		panic(`broken size`)
	}
	return ids
}

func equalIDs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTaskList_insertSorted(t *testing.T) {
	base := time.Unix(0, 0)
	for _, tc := range [...]struct {
		name   string
		delays []int
		want   []uint64
	}{
		{`ascending`, []int{1, 2, 3}, []uint64{1, 2, 3}},
		{`descending`, []int{3, 2, 1}, []uint64{3, 2, 1}},
		{`mixed`, []int{30, 10, 20}, []uint64{2, 3, 1}},
		{`ties are stable`, []int{5, 1, 5, 1}, []uint64{2, 4, 1, 3}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var l taskList
			for i, d := range tc.delays {
				l.insertSorted(&Task{id: uint64(i + 1), queueTime: base.Add(time.Duration(d))})
			}
			if got := listIDs(&l); !equalIDs(got, tc.want) {
				t.Errorf(`got %v, want %v`, got, tc.want)
			}
		})
	}
}

func TestTaskList_unlink(t *testing.T) {
	var l taskList
	tasks := make([]*Task, 5)
	for i := range tasks {
		tasks[i] = &Task{id: uint64(i + 1)}
		l.pushBack(tasks[i])
	}
	l.unlink(tasks[0])
	l.unlink(tasks[4])
	l.unlink(tasks[2])
	if got := listIDs(&l); !equalIDs(got, []uint64{2, 4}) {
		t.Fatal(got)
	}
	if tasks[2].prev != nil || tasks[2].next != nil {
		t.Error(`links not cleared`)
	}
	if l.remove(tasks[2]) {
		t.Error(`removed a non-member`)
	}
	if !l.remove(tasks[3]) || !l.remove(tasks[1]) {
		t.Error(`failed to remove members`)
	}
	if l.head != nil || l.tail != nil || l.size != 0 {
		t.Errorf(`expected empty list: %+v`, l)
	}
}

func TestTaskList_spliceAll(t *testing.T) {
	var a, b taskList
	a.pushBack(&Task{id: 1})
	b.pushBack(&Task{id: 2})
	b.pushBack(&Task{id: 3})
	a.spliceAll(&b)
	if got := listIDs(&a); !equalIDs(got, []uint64{1, 2, 3}) {
		t.Fatal(got)
	}
	if b != (taskList{}) {
		t.Error(`source not reset`)
	}
	var c taskList
	c.spliceAll(&a)
	if got := listIDs(&c); !equalIDs(got, []uint64{1, 2, 3}) {
		t.Fatal(got)
	}
	c.spliceAll(&b)
	if c.size != 3 {
		t.Error(c.size)
	}
}

func TestTaskList_spliceDue(t *testing.T) {
	base := time.Unix(0, 0)
	var (
		dst     taskList
		delayed taskList
	)
	dst.pushBack(&Task{id: 9})
	for i, d := range [...]int{10, 20, 20, 30} {
		delayed.insertSorted(&Task{id: uint64(i + 1), queueTime: base.Add(time.Duration(d))})
	}

	dst.spliceDue(&delayed, base.Add(5))
	if dst.size != 1 || delayed.size != 4 {
		t.Fatal(dst.size, delayed.size)
	}

	dst.spliceDue(&delayed, base.Add(20))
	if got := listIDs(&dst); !equalIDs(got, []uint64{9, 1, 2, 3}) {
		t.Fatal(got)
	}
	if got := listIDs(&delayed); !equalIDs(got, []uint64{4}) {
		t.Fatal(got)
	}

	dst.spliceDue(&delayed, base.Add(100))
	if got := listIDs(&dst); !equalIDs(got, []uint64{9, 1, 2, 3, 4}) {
		t.Fatal(got)
	}
	if delayed != (taskList{}) {
		t.Errorf(`expected empty: %+v`, delayed)
	}
}

func TestTaskList_hasFinite(t *testing.T) {
	var l taskList
	if l.hasFinite() {
		t.Error(`empty list`)
	}
	l.pushBack(&Task{persistent: true})
	if l.hasFinite() {
		t.Error(`persistent only`)
	}
	l.pushBack(&Task{})
	if !l.hasFinite() {
		t.Error(`expected finite`)
	}
}
