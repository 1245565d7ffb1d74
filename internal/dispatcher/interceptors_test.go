package dispatcher

import "testing"

func TestNewLoggingInterceptor_NilLoggerFallsBackToDefault(t *testing.T) {
	i := NewLoggingInterceptor(nil)
	if i.logger == nil {
		t.Error("NewLoggingInterceptor(nil) should fall back to a default logger")
	}
}

func TestNewRecoveryInterceptor_NilLoggerFallsBackToDefault(t *testing.T) {
	i := NewRecoveryInterceptor(nil)
	if i.logger == nil {
		t.Error("NewRecoveryInterceptor(nil) should fall back to a default logger")
	}
}

func TestDefaultInterceptors_RecoveryRunsBeforeLogging(t *testing.T) {
	chain := DefaultInterceptors(nil)
	if len(chain) != 2 {
		t.Fatalf("DefaultInterceptors returned %d interceptors, want 2", len(chain))
	}
	if _, ok := chain[0].(*RecoveryInterceptor); !ok {
		t.Errorf("first interceptor = %T, want *RecoveryInterceptor (must run outermost)", chain[0])
	}
	if _, ok := chain[1].(*LoggingInterceptor); !ok {
		t.Errorf("second interceptor = %T, want *LoggingInterceptor", chain[1])
	}
}
