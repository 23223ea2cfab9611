package e2ee

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values of e2ee_decrypt_total.
const (
	resultOK           = "ok"
	resultFailed       = "failed"
	resultNotRecipient = "not_recipient"
	resultUnparseable  = "unparseable"
)

type metrics struct {
	decrypts *prometheus.CounterVec
	repairs  prometheus.Counter
	publish  *prometheus.CounterVec
	cache    *prometheus.CounterVec
	epoch    prometheus.Gauge
}

// newMetrics creates the client's collectors and registers them on reg when
// it is non-nil. Collectors already registered by another client on the
// same registerer are shared.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		decrypts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "e2ee_decrypt_total",
			Help: "Decryption attempts by envelope kind and result.",
		}, []string{"kind", "result"}),
		repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "e2ee_identity_repairs_total",
			Help: "Stored public keys corrected to match their private key.",
		}),
		publish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "e2ee_key_publish_total",
			Help: "Public key publish attempts by result.",
		}, []string{"result"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "e2ee_plaintext_cache_total",
			Help: "Plaintext cache lookups by result.",
		}, []string{"result"}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "e2ee_key_epoch",
			Help: "Current identity key epoch.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	m.decrypts, err = register(reg, m.decrypts)
	if err != nil {
		return nil, err
	}
	m.repairs, err = register(reg, m.repairs)
	if err != nil {
		return nil, err
	}
	m.publish, err = register(reg, m.publish)
	if err != nil {
		return nil, err
	}
	m.cache, err = register(reg, m.cache)
	if err != nil {
		return nil, err
	}
	m.epoch, err = register(reg, m.epoch)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) decrypted(kind string, err error) {
	result := resultOK
	switch {
	case err == nil:
	case errors.Is(err, ErrUnparseable):
		result = resultUnparseable
	case errors.Is(err, ErrNotARecipient):
		result = resultNotRecipient
	default:
		result = resultFailed
	}
	m.decrypts.WithLabelValues(kind, result).Inc()
}

func (m *metrics) published(err error) {
	if err != nil {
		m.publish.WithLabelValues("error").Inc()
		return
	}
	m.publish.WithLabelValues("ok").Inc()
}
