package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

// PDFConfig holds renderer settings.
type PDFConfig struct {
	// OutputDir is where rendered PDFs are written.
	OutputDir string `yaml:"output_dir"`

	// BrowserPath overrides the Chrome/Chromium binary path. When empty the
	// launcher resolves or downloads one.
	BrowserPath string `yaml:"browser_path"`

	// Timeout bounds a single render.
	Timeout time.Duration `yaml:"timeout"`
}

// PDFRenderer renders HTML reports to PDF files through headless Chrome.
// The browser is launched lazily on first use and shared across renders.
type PDFRenderer struct {
	cfg    PDFConfig
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// NewPDFRenderer creates a renderer. The browser is not launched until the
// first Render call.
func NewPDFRenderer(cfg PDFConfig, logger *slog.Logger) *PDFRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.TempDir()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &PDFRenderer{
		cfg:    cfg,
		logger: logger.With("component", "pdf-renderer"),
	}
}

func (p *PDFRenderer) ensureBrowser() (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser != nil {
		return p.browser, nil
	}

	l := launcher.New().Headless(true).NoSandbox(true)
	if p.cfg.BrowserPath != "" {
		l = l.Bin(p.cfg.BrowserPath)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	p.browser = browser
	p.logger.Info("headless browser launched")
	return browser, nil
}

// Render writes the report as a PDF file and returns its path. The file
// name embeds a random suffix so concurrent renders never collide.
func (p *PDFRenderer) Render(ctx context.Context, report Report) (string, error) {
	html, err := HTML(report)
	if err != nil {
		return "", err
	}

	browser, err := p.ensureBrowser()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	if err := page.SetDocumentContent(html); err != nil {
		return "", fmt.Errorf("set page content: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait page load: %w", err)
	}

	marginTop := 0.4
	stream, err := page.PDF(&proto.PagePrintToPDF{
		PrintBackground: true,
		MarginTop:       &marginTop,
		MarginBottom:    &marginTop,
	})
	if err != nil {
		return "", fmt.Errorf("print to pdf: %w", err)
	}

	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(p.cfg.OutputDir, fmt.Sprintf("rapor-%s.pdf", uuid.NewString()[:8]))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create pdf file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, stream); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write pdf: %w", err)
	}

	p.logger.Debug("pdf rendered", "path", path, "rows", len(report.Rows))
	return path, nil
}

// Close shuts down the shared browser, if one was launched.
func (p *PDFRenderer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser == nil {
		return nil
	}
	err := p.browser.Close()
	p.browser = nil
	return err
}
