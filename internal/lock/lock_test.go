package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestResourceLocker_Lock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewResourceLocker(db, "res_1", "op-1")

	mock.ExpectSetNX("parakeet:resource-lock:res_1", "op-1", 5*time.Second).SetVal(true)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceLocker_Lock_AlreadyHeld(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewResourceLocker(db, "res_1", "op-2")

	mock.ExpectSetNX("parakeet:resource-lock:res_1", "op-2", 5*time.Second).SetVal(false)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.EqualError(t, err, "lock for key parakeet:resource-lock:res_1 is already held")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceLocker_Unlock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewResourceLocker(db, "res_1", "op-1")

	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	mock.ExpectEval(script, []string{"parakeet:resource-lock:res_1"}, "op-1").SetVal(int64(1))

	err := locker.Unlock(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceLocker_Unlock_NotHolder(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewResourceLocker(db, "res_1", "op-1")

	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	mock.ExpectEval(script, []string{"parakeet:resource-lock:res_1"}, "op-1").SetVal(int64(0))

	err := locker.Unlock(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceLocker_ExtendLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewResourceLocker(db, "res_1", "op-1")

	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
	mock.ExpectEval(script, []string{"parakeet:resource-lock:res_1"}, "op-1", "5000").SetVal(int64(1))

	err := locker.ExtendLock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceLocker_WaitLock_Timeout(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewResourceLocker(db, "res_1", "op-1")

	mock.Regexp().ExpectSetNX("parakeet:resource-lock:res_1", "op-1", time.Second).SetVal(false)

	err := locker.WaitLock(context.Background(), time.Second, 50*time.Millisecond)
	assert.Error(t, err)
}
