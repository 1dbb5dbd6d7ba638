package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale: число знаков после запятой для денежных сумм (копейки/центы).
const MoneyScale = 2

// ParseMinor переводит десятичную строку ("10.50") в минимальные денежные единицы.
// Дробная часть длиннее MoneyScale отклоняется, чтобы не было скрытого округления.
func ParseMinor(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, ErrPriceRequired
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, NewError(KindInvalidInput, err, "invalid money amount %q", value)
	}
	return decimalToMinor(d, value)
}

// MinorFromDecimal переводит decimal в минимальные единицы с той же проверкой точности.
func MinorFromDecimal(d decimal.Decimal) (int64, error) {
	return decimalToMinor(d, d.String())
}

func decimalToMinor(d decimal.Decimal, raw string) (int64, error) {
	if d.IsNegative() {
		return 0, ErrPriceNegative
	}
	if !d.Equal(d.Truncate(MoneyScale)) {
		return 0, NewError(KindInvalidInput, nil, "money amount %q has more than %d decimal places", raw, MoneyScale)
	}
	minor := d.Shift(MoneyScale)
	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, ErrAmountOverflow
	}
	return minor.IntPart(), nil
}

// FormatMinor форматирует минимальные единицы как десятичную строку с MoneyScale знаками.
func FormatMinor(minor int64) string {
	return decimal.New(minor, -MoneyScale).StringFixed(MoneyScale)
}

// LineTotal возвращает unitPrice*qty, отклоняя переполнение int64.
func LineTotal(unitPriceMinor int64, qty int32) (int64, error) {
	if qty <= 0 {
		return 0, ErrItemQtyInvalid
	}
	if unitPriceMinor < 0 {
		return 0, ErrItemPriceInvalid
	}
	if unitPriceMinor > math.MaxInt64/int64(qty) {
		return 0, ErrAmountOverflow
	}
	return unitPriceMinor * int64(qty), nil
}

// AddMinor складывает суммы с проверкой переполнения.
func AddMinor(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}
