package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// StockReservationsTotal counts reservation attempts by outcome
	// (reserved, insufficient, untracked).
	StockReservationsTotal *prometheus.CounterVec
	// StockHoldExpiriesTotal counts hold expiry task outcomes.
	StockHoldExpiriesTotal *prometheus.CounterVec
	// PromoValidationsTotal counts promo validation outcomes by reason.
	PromoValidationsTotal *prometheus.CounterVec
	// ShippingQuotesTotal counts shipping quote outcomes (computed, free,
	// pending, no_rule).
	ShippingQuotesTotal *prometheus.CounterVec
	// CheckoutConfirmationsTotal counts checkout confirmation outcomes.
	CheckoutConfirmationsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		StockReservationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_reservations_total",
			Help:      "Count of stock reservation attempts by outcome.",
		}, []string{"result"})
		StockHoldExpiriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_hold_expiries_total",
			Help:      "Count of reservation hold expiry outcomes.",
		}, []string{"result"})
		PromoValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_validations_total",
			Help:      "Count of promo code validation outcomes.",
		}, []string{"result"})
		ShippingQuotesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shipping_quotes_total",
			Help:      "Count of shipping quote outcomes.",
		}, []string{"result"})
		CheckoutConfirmationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_confirmations_total",
			Help:      "Count of checkout confirmation outcomes.",
		}, []string{"result"})

		mustRegisterCollector(reg, StockReservationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				StockReservationsTotal = v
			}
		})
		mustRegisterCollector(reg, StockHoldExpiriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				StockHoldExpiriesTotal = v
			}
		})
		mustRegisterCollector(reg, PromoValidationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromoValidationsTotal = v
			}
		})
		mustRegisterCollector(reg, ShippingQuotesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ShippingQuotesTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutConfirmationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutConfirmationsTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}

// CountStockReservation records a reservation attempt outcome, tolerating
// an unregistered collector in unit tests.
func CountStockReservation(result string) {
	if StockReservationsTotal != nil {
		StockReservationsTotal.WithLabelValues(result).Inc()
	}
}

// CountPromoValidation records a promo validation outcome.
func CountPromoValidation(result string) {
	if PromoValidationsTotal != nil {
		PromoValidationsTotal.WithLabelValues(result).Inc()
	}
}

// CountShippingQuote records a shipping quote outcome.
func CountShippingQuote(result string) {
	if ShippingQuotesTotal != nil {
		ShippingQuotesTotal.WithLabelValues(result).Inc()
	}
}

// CountCheckoutConfirmation records a checkout confirmation outcome.
func CountCheckoutConfirmation(result string) {
	if CheckoutConfirmationsTotal != nil {
		CheckoutConfirmationsTotal.WithLabelValues(result).Inc()
	}
}

// CountHoldExpiry records a hold expiry worker outcome.
func CountHoldExpiry(result string) {
	if StockHoldExpiriesTotal != nil {
		StockHoldExpiriesTotal.WithLabelValues(result).Inc()
	}
}
