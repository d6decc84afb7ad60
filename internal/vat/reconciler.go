package vat

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"

	"github.com/bonvision/receipt-processor/internal/models"
)

// Rules carries the tax scheme and the tolerances used while reconciling.
type Rules struct {
	ValidRates       []float64
	SnapTolerance    float64
	MaxPlausibleRate float64
	AmountTolerance  float64
}

// DefaultRules returns the Dutch VAT scheme.
func DefaultRules() Rules {
	return Rules{
		ValidRates:       []float64{0, 9, 21},
		SnapTolerance:    2.0,
		MaxPlausibleRate: 30,
		AmountTolerance:  0.02,
	}
}

// Reconciler validates and repairs the tax structure of extracted
// receipts against a fixed rate scheme.
type Reconciler struct {
	rules Rules
}

func NewReconciler(rules Rules) *Reconciler {
	if len(rules.ValidRates) == 0 {
		rules = DefaultRules()
	}
	return &Reconciler{rules: rules}
}

// Reconcile repairs rec in place. It is deterministic and idempotent:
// reconciling an already reconciled receipt changes nothing. Problems are
// recorded as warnings on the receipt, never returned as errors.
func (r *Reconciler) Reconcile(rec *models.Receipt) {
	if rec == nil {
		return
	}

	rec.VATBreakdown = r.cleanBreakdown(rec)
	if len(rec.VATBreakdown) == 0 {
		rec.VATBreakdown = r.aggregateItems(rec)
	}
	if len(rec.VATBreakdown) == 0 {
		if entry, ok := r.inferSingleRate(rec); ok {
			rec.VATBreakdown = []models.VATEntry{entry}
		}
	}

	r.reconcileHeader(rec)
	r.computeEffectiveRate(rec)
	roundAmounts(rec)
}

// SnapRate maps a claimed rate onto the nearest valid scheme rate. The
// second return is false when no scheme rate lies within the snap
// tolerance.
func (r *Reconciler) SnapRate(rate float64) (float64, bool) {
	best, bestDiff := 0.0, math.MaxFloat64
	for _, v := range r.rules.ValidRates {
		if d := math.Abs(rate - v); d < bestDiff {
			best, bestDiff = v, d
		}
	}
	if bestDiff <= r.rules.SnapTolerance {
		return best, true
	}
	return 0, false
}

// cleanBreakdown snaps entry rates, drops the unsnappable ones, merges
// duplicate rates and recomputes tax amounts that drifted from base×rate.
func (r *Reconciler) cleanBreakdown(rec *models.Receipt) []models.VATEntry {
	if len(rec.VATBreakdown) == 0 {
		return nil
	}

	merged := make(map[float64]*models.VATEntry)
	for _, e := range rec.VATBreakdown {
		rate, ok := r.SnapRate(e.Rate)
		if !ok {
			addWarning(rec, fmt.Sprintf("vat rate %s%% outside the supported scheme, entry dropped", formatRate(e.Rate)))
			continue
		}
		if cur, exists := merged[rate]; exists {
			cur.BaseAmount += e.BaseAmount
			cur.TaxAmount += e.TaxAmount
		} else {
			merged[rate] = &models.VATEntry{Rate: rate, BaseAmount: e.BaseAmount, TaxAmount: e.TaxAmount}
		}
	}
	if len(merged) == 0 {
		return nil
	}

	rates := make([]float64, 0, len(merged))
	for rate := range merged {
		rates = append(rates, rate)
	}
	sort.Float64s(rates)

	out := make([]models.VATEntry, 0, len(rates))
	for _, rate := range rates {
		e := merged[rate]
		expected := e.BaseAmount * rate / 100
		if math.Abs(e.TaxAmount-expected) > r.rules.AmountTolerance {
			addWarning(rec, fmt.Sprintf("vat tax for rate %s%% recomputed from base amount", formatRate(rate)))
			e.TaxAmount = expected
		}
		e.BaseAmount = Round2(e.BaseAmount)
		e.TaxAmount = Round2(e.TaxAmount)
		out = append(out, *e)
	}
	return out
}

// aggregateItems rebuilds the breakdown from line items when the receipt
// carries none. Line totals are treated as rate-exclusive bases.
func (r *Reconciler) aggregateItems(rec *models.Receipt) []models.VATEntry {
	if len(rec.Items) == 0 {
		return nil
	}

	sums := make(map[float64]float64)
	skipped := 0
	for i := range rec.Items {
		it := &rec.Items[i]
		if it.VATRate == nil {
			skipped++
			continue
		}
		rate, ok := r.SnapRate(*it.VATRate)
		if !ok {
			skipped++
			continue
		}
		*it.VATRate = rate
		sums[rate] += it.LineTotal
	}
	if len(sums) == 0 {
		return nil
	}

	if skipped > 0 {
		addWarning(rec, "vat breakdown derived from line items, some items had no usable rate")
	} else {
		addWarning(rec, "vat breakdown derived from line items")
	}

	rates := make([]float64, 0, len(sums))
	for rate := range sums {
		rates = append(rates, rate)
	}
	sort.Float64s(rates)

	out := make([]models.VATEntry, 0, len(rates))
	for _, rate := range rates {
		base := sums[rate]
		out = append(out, models.VATEntry{
			Rate:       rate,
			BaseAmount: Round2(base),
			TaxAmount:  Round2(base * rate / 100),
		})
	}
	return out
}

// inferSingleRate derives a one-entry breakdown from header tax and total.
// Both the tax-inclusive and the tax-exclusive reading of the total are
// tried. When both land on a valid rate the inclusive reading wins, since
// consumer receipts print tax-inclusive totals, and the ambiguity is
// recorded as a warning.
func (r *Reconciler) inferSingleRate(rec *models.Receipt) (models.VATEntry, bool) {
	if rec.TaxAmount == nil || rec.TotalAmount == nil {
		return models.VATEntry{}, false
	}
	tax, total := *rec.TaxAmount, *rec.TotalAmount
	if tax <= 0 || total <= 0 || total <= tax {
		return models.VATEntry{}, false
	}

	incRate, incOK := r.plausibleSnap(tax / (total - tax) * 100)
	excRate, excOK := r.plausibleSnap(tax / total * 100)

	switch {
	case incOK && excOK:
		addWarning(rec, fmt.Sprintf("vat rate ambiguous between %s%% tax-inclusive and %s%% tax-exclusive, assuming inclusive",
			formatRate(incRate), formatRate(excRate)))
		return models.VATEntry{Rate: incRate, BaseAmount: Round2(total - tax), TaxAmount: Round2(tax)}, true
	case incOK:
		return models.VATEntry{Rate: incRate, BaseAmount: Round2(total - tax), TaxAmount: Round2(tax)}, true
	case excOK:
		// The extracted total excluded tax. Repair the headers so the
		// stored total is the grand total.
		rec.Subtotal = f64(Round2(total))
		rec.TotalAmount = f64(Round2(total + tax))
		addWarning(rec, "total read as tax-exclusive, grand total recomputed")
		return models.VATEntry{Rate: excRate, BaseAmount: Round2(total), TaxAmount: Round2(tax)}, true
	}

	addWarning(rec, "vat rate could not be derived from tax and total")
	return models.VATEntry{}, false
}

// plausibleSnap restricts snapping to positive rates below the plausibility
// ceiling, which keeps nonsense header figures from inventing a breakdown.
func (r *Reconciler) plausibleSnap(rate float64) (float64, bool) {
	if rate <= 0 || rate > r.rules.MaxPlausibleRate {
		return 0, false
	}
	return r.SnapRate(rate)
}

// reconcileHeader repairs subtotal, tax and total. The total and the
// breakdown are the most reliable figures on printed receipts, so
// disagreements resolve in their favor.
func (r *Reconciler) reconcileHeader(rec *models.Receipt) {
	tol := r.rules.AmountTolerance

	if len(rec.VATBreakdown) == 0 {
		if rec.TotalAmount == nil || rec.TaxAmount == nil {
			return
		}
		expected := Round2(*rec.TotalAmount - *rec.TaxAmount)
		if rec.Subtotal == nil {
			rec.Subtotal = f64(expected)
		} else if math.Abs(*rec.Subtotal+*rec.TaxAmount-*rec.TotalAmount) > tol {
			addWarning(rec, fmt.Sprintf("subtotal %.2f plus tax %.2f does not equal total %.2f, subtotal adjusted",
				*rec.Subtotal, *rec.TaxAmount, *rec.TotalAmount))
			rec.Subtotal = f64(expected)
		}
		return
	}

	var sumBase, sumTax float64
	for _, e := range rec.VATBreakdown {
		sumBase += e.BaseAmount
		sumTax += e.TaxAmount
	}
	sumBase, sumTax = Round2(sumBase), Round2(sumTax)

	if rec.TaxAmount == nil {
		rec.TaxAmount = f64(sumTax)
	} else if math.Abs(*rec.TaxAmount-sumTax) > tol {
		addWarning(rec, fmt.Sprintf("tax amount %.2f disagrees with breakdown sum %.2f, using breakdown", *rec.TaxAmount, sumTax))
		rec.TaxAmount = f64(sumTax)
	}

	switch {
	case rec.TotalAmount != nil:
		expected := Round2(*rec.TotalAmount - *rec.TaxAmount)
		if rec.Subtotal == nil {
			rec.Subtotal = f64(expected)
		} else if math.Abs(*rec.Subtotal-expected) > tol {
			addWarning(rec, fmt.Sprintf("subtotal %.2f disagrees with total minus tax %.2f, adjusted", *rec.Subtotal, expected))
			rec.Subtotal = f64(expected)
		}
		if math.Abs(sumBase-*rec.Subtotal) > tol {
			addWarning(rec, fmt.Sprintf("vat bases sum to %.2f but subtotal is %.2f", sumBase, *rec.Subtotal))
		}
	case rec.Subtotal != nil:
		rec.TotalAmount = f64(Round2(*rec.Subtotal + *rec.TaxAmount))
		addWarning(rec, "total computed from subtotal and tax")
	default:
		rec.Subtotal = f64(sumBase)
		rec.TotalAmount = f64(Round2(sumBase + sumTax))
		addWarning(rec, "totals computed from vat breakdown")
	}
}

// computeEffectiveRate derives the base-weighted effective percentage.
// The field is always derived here, never trusted from extraction.
func (r *Reconciler) computeEffectiveRate(rec *models.Receipt) {
	var sumBase, sumTax float64
	for _, e := range rec.VATBreakdown {
		sumBase += e.BaseAmount
		sumTax += e.TaxAmount
	}
	if sumBase > 0 {
		rec.VATPercentageEffective = f64(Round1(sumTax / sumBase * 100))
		return
	}
	if rec.TaxAmount != nil && *rec.TaxAmount == 0 {
		rec.VATPercentageEffective = f64(0)
		return
	}
	rec.VATPercentageEffective = nil
}

func roundAmounts(rec *models.Receipt) {
	roundPtr(rec.Subtotal)
	roundPtr(rec.TaxAmount)
	roundPtr(rec.TotalAmount)
	for i := range rec.VATBreakdown {
		rec.VATBreakdown[i].BaseAmount = Round2(rec.VATBreakdown[i].BaseAmount)
		rec.VATBreakdown[i].TaxAmount = Round2(rec.VATBreakdown[i].TaxAmount)
	}
	for i := range rec.Items {
		rec.Items[i].UnitPrice = Round2(rec.Items[i].UnitPrice)
		rec.Items[i].LineTotal = Round2(rec.Items[i].LineTotal)
	}
}

func roundPtr(p *float64) {
	if p != nil {
		*p = Round2(*p)
	}
}

func addWarning(rec *models.Receipt, msg string) {
	if slices.Contains(rec.Warnings, msg) {
		return
	}
	rec.Warnings = append(rec.Warnings, msg)
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', -1, 64)
}

func f64(v float64) *float64 {
	return &v
}
