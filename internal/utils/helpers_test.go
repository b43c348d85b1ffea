package utils

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	require.Equal(t, "45s", FormatDuration(45000))
	require.Equal(t, "5m30s", FormatDuration(5*60*1000+30*1000))
	require.Equal(t, "1h23m45s", FormatDuration(((1*3600)+(23*60)+45)*1000))
	require.Equal(t, "0s", FormatDuration(0))
}

func TestFormatDurationFromTime(t *testing.T) {
	require.Equal(t, "1m0s", FormatDurationFromTime(time.Minute))
}

func TestSleep_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, 10000)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleep_CompletesNormally(t *testing.T) {
	err := Sleep(context.Background(), 1)
	require.NoError(t, err)
}

func TestIsNetworkError(t *testing.T) {
	require.False(t, IsNetworkError(nil))
	require.True(t, IsNetworkError(errors.New("connection refused")))
	require.True(t, IsNetworkError(errors.New("dial tcp: i/o timeout")))
	require.True(t, IsNetworkError(errors.New("unexpected EOF")))
	require.False(t, IsNetworkError(errors.New("invalid api key")))
}

func TestGenerateJitter_WithinBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		j := GenerateJitter(1000)
		require.GreaterOrEqual(t, j, int64(-500))
		require.Less(t, j, int64(1000)-500)
	}
}

func TestGenerateJitterPositive_WithinBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		j := GenerateJitterPositive(1000)
		require.GreaterOrEqual(t, j, int64(0))
		require.Less(t, j, int64(1000))
	}
}

func TestMinMax(t *testing.T) {
	require.Equal(t, int64(1), Min(1, 2))
	require.Equal(t, int64(2), Max(1, 2))
	require.Equal(t, 1, MinInt(1, 2))
	require.Equal(t, 2, MaxInt(1, 2))
}

func TestClamp(t *testing.T) {
	require.Equal(t, int64(5), Clamp(5, 0, 10))
	require.Equal(t, int64(0), Clamp(-5, 0, 10))
	require.Equal(t, int64(10), Clamp(15, 0, 10))
}

func TestClampFloat(t *testing.T) {
	require.InDelta(t, 5.0, ClampFloat(5.0, 0, 10), 0.0001)
	require.InDelta(t, 0.0, ClampFloat(-5.0, 0, 10), 0.0001)
	require.InDelta(t, 10.0, ClampFloat(15.0, 0, 10), 0.0001)
}

func TestEnsureDirAndFileExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dir")
	require.NoError(t, EnsureDir(dir))
	require.True(t, DirExists(dir))
	require.False(t, DirExists(filepath.Join(dir, "nope")))

	file := filepath.Join(dir, "f.txt")
	require.False(t, FileExists(file))
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	require.True(t, FileExists(file))
}

func TestEnsureParentDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a", "b", "f.txt")
	require.NoError(t, EnsureParentDir(file))
	require.True(t, DirExists(filepath.Dir(file)))
}

func TestNowMsAndNowISO(t *testing.T) {
	require.Greater(t, NowMs(), int64(0))
	parsed, err := ParseISO(NowISO())
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), parsed, 5*time.Second)
}

func TestSafeAccessors(t *testing.T) {
	require.Equal(t, "", SafeString(nil))
	require.Equal(t, "x", SafeString(StringPtr("x")))
	require.Equal(t, int64(0), SafeInt64(nil))
	require.Equal(t, int64(5), SafeInt64(Int64Ptr(5)))
	require.Equal(t, 0.0, SafeFloat64(nil))
	require.Equal(t, 1.5, SafeFloat64(Float64Ptr(1.5)))
	require.False(t, SafeBool(nil))
	require.True(t, SafeBool(BoolPtr(true)))
}

func TestPtrHelpers(t *testing.T) {
	v := Ptr(42)
	require.Equal(t, 42, *v)
}

func TestCoalesceString(t *testing.T) {
	require.Equal(t, "b", CoalesceString("", "b", "c"))
	require.Equal(t, "", CoalesceString("", ""))
}

func TestTruncateString(t *testing.T) {
	require.Equal(t, "hello", TruncateString("hello", 10))
	require.Equal(t, "hel...", TruncateString("hello", 3))
}

func TestContainsAny(t *testing.T) {
	require.True(t, ContainsAny("hello world", "xyz", "world"))
	require.False(t, ContainsAny("hello world", "xyz", "abc"))
}

func TestMaskEmail(t *testing.T) {
	require.Equal(t, "j***@example.com", MaskEmail("jane@example.com"))
	require.Equal(t, "a***@example.com", MaskEmail("a@example.com"))
	require.Equal(t, "***", MaskEmail("not-an-email"))
}

func TestFormatPercent(t *testing.T) {
	require.Equal(t, "75%", FormatPercent(0.75))
	require.Equal(t, "0%", FormatPercent(0))
	require.Equal(t, "100%", FormatPercent(1))
}
