package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/skyliftcoin/gemini-web-browser/pkg/config"
)

var (
	// ErrPageUnavailable means the underlying browser context is closed or
	// crashed. Fatal for the current task; never retried.
	ErrPageUnavailable = errors.New("page unavailable")
	// ErrLoadTimeout means the page did not reach ready state in time.
	ErrLoadTimeout = errors.New("page load timeout")
	// ErrActionTimeout means a single browser call exceeded its deadline.
	ErrActionTimeout = errors.New("browser action timeout")
	// ErrNavigationFailed wraps navigation errors from the browser.
	ErrNavigationFailed = errors.New("navigation failed")
)

// Session owns the single live page. All mutation of the page goes through
// this handle; callers receive it explicitly, never via globals.
type Session struct {
	mu            sync.Mutex
	cfg           config.BrowserConfig
	logger        *zap.Logger
	screenshotDir string

	allocCtx      context.Context
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

func NewSession(cfg config.BrowserConfig, screenshotDir string, logger *zap.Logger) *Session {
	return &Session{
		cfg:           cfg,
		logger:        logger.Named("browser"),
		screenshotDir: screenshotDir,
	}
}

// Start launches the browser process and opens the page. Safe to call again
// after a crash; a healthy session is left untouched.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browserCtx != nil {
		select {
		case <-s.browserCtx.Done():
			s.cleanupLocked()
		default:
			return nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	s.browserCtx, s.browserCancel = chromedp.NewContext(s.allocCtx)

	if err := chromedp.Run(s.browserCtx); err != nil {
		s.cleanupLocked()
		return fmt.Errorf("%w: %v", ErrPageUnavailable, err)
	}
	s.logger.Info("browser session started", zap.Bool("headless", s.cfg.Headless))
	return nil
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
}

func (s *Session) cleanupLocked() {
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	s.browserCtx = nil
	s.allocCtx = nil
}

// pageCtx returns the live page context or ErrPageUnavailable.
func (s *Session) pageCtx() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browserCtx == nil {
		return nil, ErrPageUnavailable
	}
	select {
	case <-s.browserCtx.Done():
		return nil, ErrPageUnavailable
	default:
		return s.browserCtx, nil
	}
}

// run executes chromedp actions against the page with a bounded timeout.
// The caller's ctx carries cancellation; the page's own lifetime decides
// availability.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	page, err := s.pageCtx()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(page, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()

	select {
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	case err := <-done:
		if err == nil {
			return nil
		}
		if _, pageErr := s.pageCtx(); pageErr != nil {
			return ErrPageUnavailable
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrActionTimeout, err)
		}
		return err
	}
}

// Screenshot captures the visible page as PNG and writes it under the
// session's screenshot directory. Returns the bytes and the saved path.
func (s *Session) Screenshot(ctx context.Context) ([]byte, string, error) {
	var buf []byte
	if err := s.run(ctx, s.cfg.ActTimeout(), chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, "", err
	}

	if err := os.MkdirAll(s.screenshotDir, 0755); err != nil {
		return buf, "", fmt.Errorf("failed to create screenshot dir: %w", err)
	}
	path := filepath.Join(s.screenshotDir, fmt.Sprintf("screenshot_%d.png", time.Now().UnixNano()))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return buf, "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return buf, path, nil
}
