package manager

import (
	"context"
	"sync"
)

type mockGenerator struct {
	GenerateCodeFunc func(ctx context.Context, name, description string) (string, error)
	RepairFunc       func(ctx context.Context, code, failure string, final bool) (string, error)

	mu      sync.Mutex
	names   []string
	repairs int
}

func (m *mockGenerator) GenerateCode(ctx context.Context, name, description string) (string, error) {
	m.mu.Lock()
	m.names = append(m.names, name)
	m.mu.Unlock()
	if m.GenerateCodeFunc != nil {
		return m.GenerateCodeFunc(ctx, name, description)
	}
	return "", nil
}

func (m *mockGenerator) Repair(ctx context.Context, code, failure string, final bool) (string, error) {
	m.mu.Lock()
	m.repairs++
	m.mu.Unlock()
	if m.RepairFunc != nil {
		return m.RepairFunc(ctx, code, failure, final)
	}
	return code, nil
}

type mockClassifier struct {
	ClassifyFunc func(ctx context.Context, text, listing string) (string, error)
	listings     []string
}

func (m *mockClassifier) Classify(ctx context.Context, text, listing string) (string, error) {
	m.listings = append(m.listings, listing)
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, text, listing)
	}
	return "NO", nil
}

type mockTranslator struct {
	TranslateFunc func(ctx context.Context, raw, context string) (string, error)
}

func (m *mockTranslator) Translate(ctx context.Context, raw, requestContext string) (string, error) {
	if m.TranslateFunc != nil {
		return m.TranslateFunc(ctx, raw, requestContext)
	}
	return raw, nil
}

type mockInstaller struct {
	InstallFunc func(ctx context.Context, module, version string) error
	installed   map[string]string
}

func (m *mockInstaller) Install(ctx context.Context, module, version string) error {
	if m.InstallFunc != nil {
		if err := m.InstallFunc(ctx, module, version); err != nil {
			return err
		}
	}
	if m.installed == nil {
		m.installed = make(map[string]string)
	}
	m.installed[module] = version
	return nil
}

func (m *mockInstaller) ListInstalled(context.Context) (map[string]string, error) {
	out := make(map[string]string, len(m.installed))
	for k, v := range m.installed {
		out[k] = v
	}
	return out, nil
}

func reply(s string) func(context.Context, string, string) (string, error) {
	return func(context.Context, string, string) (string, error) { return s, nil }
}
