package adapter_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"i4.energy/across/obdgw/adapter"
	"i4.energy/across/obdgw/elm"
)

func TestAdapterNew(t *testing.T) {
	t.Run("Initialization Success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := adapter.NewMockTransport(ctrl)
		mockDialer := adapter.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)

		config, err := adapter.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		a, err := adapter.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a == nil {
			t.Fatal("New() should return valid adapter on success")
		}

		mockTransport.EXPECT().Close().Return(nil)
		if err := a.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
	})

	t.Run("ErrNoDialer from Build without dialer", func(t *testing.T) {
		_, err := adapter.NewConfigBuilder().Build()
		if !errors.Is(err, adapter.ErrNoDialer) {
			t.Errorf("expected ErrNoDialer, got: %v", err)
		}
	})

	t.Run("ErrNoDialer from zero Config", func(t *testing.T) {
		a, err := adapter.New(context.Background(), adapter.Config{})
		if !errors.Is(err, adapter.ErrNoDialer) {
			t.Errorf("expected ErrNoDialer, got: %v", err)
		}
		if a != nil {
			t.Error("expected nil adapter")
		}
	})

	t.Run("Dial error is returned", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		dialErr := errors.New("no such device")
		mockDialer := adapter.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, dialErr)

		config, _ := adapter.NewConfigBuilder().WithDialer(mockDialer).Build()
		a, err := adapter.New(context.Background(), config)
		if !errors.Is(err, dialErr) {
			t.Errorf("expected dial error, got: %v", err)
		}
		if a != nil {
			t.Error("expected nil adapter")
		}
	})

	t.Run("ErrNotInitialized when dialer yields no transport", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := adapter.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, nil)

		config, _ := adapter.NewConfigBuilder().WithDialer(mockDialer).Build()
		_, err := adapter.New(context.Background(), config)
		if !errors.Is(err, adapter.ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized, got: %v", err)
		}
	})
}

func TestAdapterSubmit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTransport := adapter.NewMockTransport(ctrl)
	mockDialer := adapter.NewMockDialer(ctrl)
	mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)

	config, _ := adapter.NewConfigBuilder().WithDialer(mockDialer).Build()
	a, err := adapter.New(context.Background(), config)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writeErr := errors.New("port gone")
	gomock.InOrder(
		mockTransport.EXPECT().Write([]byte("0100\r")).Return(5, nil),
		mockTransport.EXPECT().Write([]byte("010C\r")).Return(0, writeErr),
		mockTransport.EXPECT().Close().Return(nil),
	)

	if err := a.Submit([]byte("0100\r")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := a.Submit([]byte("010C\r")); !errors.Is(err, writeErr) {
		t.Errorf("expected wrapped write error, got: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Errorf("unexpected error from Close(): %v", err)
	}
	if err := a.Close(); !errors.Is(err, adapter.ErrAlreadyClosed) {
		t.Errorf("expected ErrAlreadyClosed on second Close, got: %v", err)
	}
	if err := a.Submit([]byte("0100\r")); !errors.Is(err, adapter.ErrAlreadyClosed) {
		t.Errorf("expected ErrAlreadyClosed after Close, got: %v", err)
	}
}

func newTestAdapter(t *testing.T, b *adapter.ConfigBuilder) (*adapter.Adapter, *adapter.TestTransport) {
	t.Helper()
	transport := adapter.NewTestTransport()
	config, err := b.WithDialer(adapter.TestDialer{Transport: transport}).Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}
	a, err := adapter.New(context.Background(), config)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return a, transport
}

func startLoop(t *testing.T, a *adapter.Adapter) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Loop(ctx) }()
	return cancel, done
}

func receive(t *testing.T, ch <-chan elm.Response) elm.Response {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
		return elm.Response{}
	}
}

func TestAdapterLoop(t *testing.T) {
	t.Run("Delivers response assembled from fragments", func(t *testing.T) {
		a, transport := newTestAdapter(t, adapter.NewConfigBuilder())
		cancel, done := startLoop(t, a)
		defer cancel()

		transport.SendData("7E8 04 41 0C")
		transport.SendData(" 1A F8\r\r")
		transport.SendData(">")

		resp := receive(t, a.Responses())
		if got := resp.Hex(); got != "410C1AF8" {
			t.Errorf("expected 410C1AF8, got %s", got)
		}

		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got: %v", err)
		}
		_ = a.Close()
	})

	t.Run("Adapter error replies are not delivered", func(t *testing.T) {
		a, transport := newTestAdapter(t, adapter.NewConfigBuilder())
		cancel, _ := startLoop(t, a)
		defer cancel()

		transport.SendData("NO DATA\r\r>")
		transport.SendData("7E8 03 41 0D 32\r\r>")

		resp := receive(t, a.Responses())
		if got := resp.Hex(); got != "410D32" {
			t.Errorf("expected only the valid reply, got %s", got)
		}
		_ = a.Close()
	})

	t.Run("Delivers pending reply when closing fragment overflows", func(t *testing.T) {
		a, transport := newTestAdapter(t, adapter.NewConfigBuilder().WithBufferSize(16))
		cancel, _ := startLoop(t, a)
		defer cancel()

		transport.SendData("7E8 03 41 0C 1A")
		transport.SendData(" F8\r>")

		resp := receive(t, a.Responses())
		if got := resp.Hex(); got != "410C1A" {
			t.Errorf("expected 410C1A, got %s", got)
		}
		_ = a.Close()
	})

	t.Run("Drops response when queue stays full", func(t *testing.T) {
		a, transport := newTestAdapter(t, adapter.NewConfigBuilder().
			WithResponseQueue(1).
			WithDeliveryTimeout(10*time.Millisecond))
		cancel, _ := startLoop(t, a)
		defer cancel()

		transport.SendData("7E8 03 41 0D 01\r\r>")
		transport.SendData("7E8 03 41 0D 02\r\r>")
		transport.SendData("7E8 03 41 0D 03\r\r>")

		// Give the loop time to fill the queue and drop the rest.
		time.Sleep(100 * time.Millisecond)

		resp := receive(t, a.Responses())
		if got := resp.Hex(); got != "410D01" {
			t.Errorf("expected first reply, got %s", got)
		}
		select {
		case resp := <-a.Responses():
			t.Errorf("expected later replies to be dropped, got %s", resp.Hex())
		case <-time.After(50 * time.Millisecond):
		}
		_ = a.Close()
	})

	t.Run("Returns io.EOF when transport closes", func(t *testing.T) {
		a, _ := newTestAdapter(t, adapter.NewConfigBuilder())
		cancel, done := startLoop(t, a)
		defer cancel()

		if err := a.Close(); err != nil {
			t.Fatalf("unexpected error from Close(): %v", err)
		}

		select {
		case err := <-done:
			if !errors.Is(err, io.EOF) {
				t.Errorf("expected io.EOF, got: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Loop did not return after Close")
		}
	})

	t.Run("ErrLoopRunning on second Loop", func(t *testing.T) {
		a, _ := newTestAdapter(t, adapter.NewConfigBuilder())
		cancel, _ := startLoop(t, a)
		defer cancel()

		// Let the first Loop claim the adapter.
		time.Sleep(20 * time.Millisecond)

		if err := a.Loop(context.Background()); !errors.Is(err, adapter.ErrLoopRunning) {
			t.Errorf("expected ErrLoopRunning, got: %v", err)
		}
		_ = a.Close()
	})
}
