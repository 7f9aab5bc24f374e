// Package validation содержит проверки входных значений API хранилища.
package validation

// IsValidAmount проверяет, что сумма операции положительна.
func IsValidAmount(amount int64) bool {
	return amount > 0
}

// IsValidAssetSymbol проверяет синтаксис обозначения актива: латинские буквы
// и цифры, от 2 до 16 символов.
func IsValidAssetSymbol(symbol string) bool {
	if len(symbol) < 2 || len(symbol) > 16 {
		return false
	}
	for _, r := range symbol {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// IsValidLockParams проверяет параметры блокировки: все значения положительны
// и суммарный график выплат не превышает блокируемую сумму.
func IsValidLockParams(amount, lockPeriodDays, dailyRelease int64) bool {
	if amount <= 0 || lockPeriodDays <= 0 || dailyRelease <= 0 {
		return false
	}
	// daily_release * lock_period_days не должно переполняться и превышать amount.
	if dailyRelease > amount/lockPeriodDays {
		return false
	}
	return true
}
