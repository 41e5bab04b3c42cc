package service

import (
	"sync"
	"testing"
)

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	locker := NewKeyedLocker()

	var wg sync.WaitGroup
	counter := 0
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock("dataset-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, ожидалось 100", counter)
	}
	if n := locker.Len(); n != 0 {
		t.Errorf("Len() = %d после освобождения, ожидалось 0", n)
	}
}

func TestKeyedLocker_IndependentKeys(t *testing.T) {
	locker := NewKeyedLocker()

	unlockA := locker.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locker.Lock("b")
		unlockB()
		close(done)
	}()
	<-done

	if n := locker.Len(); n != 1 {
		t.Errorf("Len() = %d, ожидалось 1", n)
	}
	unlockA()
	if n := locker.Len(); n != 0 {
		t.Errorf("Len() = %d, ожидалось 0", n)
	}
}
