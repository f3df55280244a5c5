package event

/*
 * PS/2 ESDI adapter emulator - Event scheduler
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

type Callback = func(iarg int)

type Event struct {
	time int      // Microseconds to event, relative to previous entry
	dev  any      // Owner the event is registered to
	cb   Callback // Function to callback
	iarg int      // Integer argument
	prev *Event
	next *Event
}

// Scheduler holds pending events as a delta list: each entry's time is
// relative to the entry before it. Every machine owns its own Scheduler so
// two instances never share event state.
type Scheduler struct {
	head *Event
	tail *Event
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Add an event. A time of 0 runs the callback immediately.
func (sched *Scheduler) Schedule(dev any, cb Callback, time int, iarg int) {
	if time == 0 {
		cb(iarg)
		return
	}

	ev := &Event{dev: dev, cb: cb, time: time, iarg: iarg}

	evptr := sched.head
	// If empty put on head
	if evptr == nil {
		sched.head = ev
		sched.tail = ev
		return
	}

	// Scan for place to install it
	for evptr != nil {
		// Event before next event
		if ev.time <= evptr.time {
			// Remove current time from next time
			evptr.time -= ev.time
			ev.prev = evptr.prev
			ev.next = evptr
			evptr.prev = ev
			if ev.prev != nil {
				ev.prev.next = ev
			} else {
				sched.head = ev
			}
			return
		}
		// Make new event relative to current entry
		ev.time -= evptr.time
		evptr = evptr.next
	}

	// Get here, put it on tail of list
	ev.prev = sched.tail
	sched.tail.next = ev
	sched.tail = ev
}

// Remove a pending event registered by dev with argument iarg.
func (sched *Scheduler) Cancel(dev any, iarg int) {
	evptr := sched.head

	for evptr != nil {
		if evptr.dev == dev && evptr.iarg == iarg {
			nxt := evptr.next
			// If next event give time to next event
			if nxt != nil {
				nxt.time += evptr.time
				nxt.prev = evptr.prev
			} else {
				// No next event, point tail to prev
				sched.tail = evptr.prev
			}

			// Point previous event next to next
			if evptr.prev != nil {
				evptr.prev.next = evptr.next
			} else {
				// No previous, at head of list
				sched.head = evptr.next
			}
			return
		}
		evptr = evptr.next
	}
}

// Report whether dev has a pending event with argument iarg.
func (sched *Scheduler) Pending(dev any, iarg int) bool {
	for evptr := sched.head; evptr != nil; evptr = evptr.next {
		if evptr.dev == dev && evptr.iarg == iarg {
			return true
		}
	}
	return false
}

// Advance time by t microseconds, running every event that comes due.
func (sched *Scheduler) Advance(t int) {
	evptr := sched.head
	if evptr == nil {
		return
	}
	evptr.time -= t
	for evptr != nil && evptr.time <= 0 {
		carry := evptr.time
		cb := evptr.cb
		iarg := evptr.iarg
		sched.head = evptr.next
		if sched.head != nil {
			sched.head.prev = nil
			sched.head.time += carry
		} else {
			sched.tail = nil
		}
		cb(iarg)
		evptr = sched.head
	}
}
