/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeHandler struct {
	fd       int
	interest Interest
	reads    int
	writes   int
	order    *[]int
}

func (f *fakeHandler) Interest() (int, Interest) { return f.fd, f.interest }

func (f *fakeHandler) OnReadable(time.Time) {
	f.reads++
	if f.order != nil {
		*f.order = append(*f.order, f.fd)
	}
}

func (f *fakeHandler) OnWritable(time.Time) {
	f.writes++
	if f.order != nil {
		*f.order = append(*f.order, f.fd)
	}
}

func TestRunOnceDispatchesInHandlerOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	waiter := NewMockWaiter(ctrl)
	clock := NewMockClock(ctrl)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var order []int

	h1 := &fakeHandler{fd: 7, interest: InterestWrite, order: &order}
	h2 := &fakeHandler{fd: 3, interest: InterestRead, order: &order}
	h3 := &fakeHandler{fd: 9, interest: InterestRead, order: &order}
	idle := &fakeHandler{fd: 11, interest: InterestNone}
	closed := &fakeHandler{fd: -1, interest: InterestRead}

	waiter.EXPECT().Wait([]int{3, 9}, []int{7}, time.Second).
		Return(NewReadySet([]int{3, 9}, []int{7}), nil)
	clock.EXPECT().Now().Return(now)

	s := NewScheduler(waiter, clock, nil)

	out, err := s.RunOnce(context.Background(), []Handler{h1, h2, h3, idle, closed}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, 3, out.Ready)
	assert.False(t, out.TimedOut)
	assert.Equal(t, now, out.Now)
	assert.Equal(t, []int{7, 3, 9}, order)
	assert.Equal(t, 1, h1.writes)
	assert.Equal(t, 0, h1.reads)
	assert.Equal(t, 0, idle.reads+idle.writes)
}

func TestRunOnceIgnoresMismatchedReadiness(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	waiter := NewMockWaiter(ctrl)

	h := &fakeHandler{fd: 4, interest: InterestRead}

	// Writable is reported but the handler only asked for reads.
	waiter.EXPECT().Wait(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(NewReadySet(nil, []int{4}), nil)

	s := NewScheduler(waiter, nil, nil)

	out, err := s.RunOnce(context.Background(), []Handler{h}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Ready)
	assert.Equal(t, 0, h.reads)
}

func TestRunOnceTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	waiter := NewMockWaiter(ctrl)
	waiter.EXPECT().Wait(gomock.Any(), gomock.Any(), 50*time.Millisecond).Return(ReadySet{}, nil)

	metrics, err := NewMetrics()
	require.NoError(t, err)

	s := NewScheduler(waiter, nil, metrics)

	out, err := s.RunOnce(context.Background(), []Handler{&fakeHandler{fd: 1, interest: InterestRead}}, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
}

func TestRunOnceInterrupted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	waiter := NewMockWaiter(ctrl)
	waiter.EXPECT().Wait(gomock.Any(), gomock.Any(), gomock.Any()).Return(ReadySet{}, ErrInterrupted)

	h := &fakeHandler{fd: 1, interest: InterestRead}
	s := NewScheduler(waiter, nil, nil)

	out, err := s.RunOnce(context.Background(), []Handler{h}, time.Second)
	require.NoError(t, err)
	assert.True(t, out.Interrupted)
	assert.False(t, out.TimedOut)
	assert.Equal(t, 0, h.reads)
}

func TestRunOnceFatalWaitError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	waiter := NewMockWaiter(ctrl)
	waiter.EXPECT().Wait(gomock.Any(), gomock.Any(), gomock.Any()).Return(ReadySet{}, errors.New("bad descriptor"))

	s := NewScheduler(waiter, nil, nil)

	_, err := s.RunOnce(context.Background(), nil, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWaitFailed)
}
