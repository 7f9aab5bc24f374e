// Package vmath содержит проверяемую целочисленную арифметику денежных сумм.
// Молчаливое переполнение недопустимо: операции либо возвращают ошибку,
// либо насыщаются явно.
package vmath

import (
	"errors"
	"math"
	"math/big"
)

// ErrOverflow возвращается при переполнении или недопустимом делении.
var ErrOverflow = errors.New("integer overflow")

// CheckedAdd складывает два неотрицательных значения с контролем переполнения.
func CheckedAdd(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrOverflow
	}
	if a > math.MaxInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// CheckedSub вычитает b из a; отрицательный результат считается ошибкой.
func CheckedSub(a, b int64) (int64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// SaturatingMul перемножает значения, ограничивая результат math.MaxInt64.
func SaturatingMul(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

// SaturatingSub вычитает b из a, ограничивая результат нулём снизу.
func SaturatingSub(a, b int64) int64 {
	if b >= a {
		return 0
	}
	return a - b
}

// MulDiv вычисляет a*b/div через 128-битное промежуточное значение.
// Деление усекается к нулю. Результат вне диапазона int64 — ошибка.
func MulDiv(a, b, div int64) (int64, error) {
	if div == 0 {
		return 0, ErrOverflow
	}

	product := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	quotient := product.Quo(product, big.NewInt(div))

	if !quotient.IsInt64() {
		return 0, ErrOverflow
	}
	return quotient.Int64(), nil
}

// Pow10 возвращает 10^exp для пересчёта десятичных разрядов актива.
func Pow10(exp int) (int64, error) {
	if exp < 0 || exp > 18 {
		return 0, ErrOverflow
	}
	result := int64(1)
	for i := 0; i < exp; i++ {
		result *= 10
	}
	return result, nil
}
