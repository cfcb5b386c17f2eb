package supervisor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawn_EchoesAndExits(t *testing.T) {
	s := New(slog.Default())
	p, err := s.Spawn(context.Background(), SpawnDescriptor{
		Command: "/bin/sh",
		Args:    []string{"-c", "read line; echo \"$line\""},
	})
	require.NoError(t, err)

	_, err = p.Stdin.Write([]byte("hello\n"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := p.Stdout.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(buf[:n]))

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("child did not exit")
	}
	require.Equal(t, 0, p.ExitCode())
}

func TestSpawn_NotFound(t *testing.T) {
	s := New(slog.Default())
	_, err := s.Spawn(context.Background(), SpawnDescriptor{Command: "/no/such/executable-xyz"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrSpawnFailed)
}

func TestTerminate_KillsLongRunningChild(t *testing.T) {
	s := New(slog.Default())
	p, err := s.Spawn(context.Background(), SpawnDescriptor{
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 60"},
	})
	require.NoError(t, err)

	p.Terminate()

	select {
	case <-p.Done():
	default:
		t.Fatal("Terminate returned before child was reaped")
	}
}

func TestCrashError_NonzeroExit(t *testing.T) {
	s := New(slog.Default())
	p, err := s.Spawn(context.Background(), SpawnDescriptor{
		Command: "/bin/sh",
		Args:    []string{"-c", "exit 3"},
	})
	require.NoError(t, err)

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("child did not exit")
	}
	require.ErrorIs(t, p.CrashError(), ErrChildCrashed)
	require.Equal(t, 3, p.ExitCode())
}

func TestCrashError_CleanExitIsNil(t *testing.T) {
	s := New(slog.Default())
	p, err := s.Spawn(context.Background(), SpawnDescriptor{
		Command: "/bin/true",
	})
	require.NoError(t, err)

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("child did not exit")
	}
	require.NoError(t, p.CrashError())
}

func TestCrashError_NilBeforeReap(t *testing.T) {
	s := New(slog.Default())
	p, err := s.Spawn(context.Background(), SpawnDescriptor{
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 60"},
	})
	require.NoError(t, err)

	require.NoError(t, p.CrashError(), "a live child has not crashed")
	p.Terminate()
}

func TestBuildEnv_PrecedenceOrder(t *testing.T) {
	env := BuildEnv(
		map[string]string{"A": "static", "B": "static"},
		map[string]string{"B": "header", "C": "header"},
		true,
		[]string{"A=parent", "D=parent"},
	)
	m := map[string]string{}
	for _, kv := range env {
		for i := range kv {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	require.Equal(t, "parent", m["A"], "parent env overrides static_env")
	require.Equal(t, "header", m["B"], "header_to_env overrides static_env")
	require.Equal(t, "header", m["C"])
	require.Equal(t, "parent", m["D"], "parent env passed through when not overridden")
}
