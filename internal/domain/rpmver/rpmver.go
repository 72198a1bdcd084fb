// Пакет rpmver — сравнение версий RPM-пакетов (epoch, version, release).
//
// Строки версии разбиваются на максимальные последовательности цифр и
// не-цифр. Цифровые сегменты сравниваются как числа (ведущие нули
// игнорируются), остальные — посимвольно. На одной позиции цифровой
// сегмент всегда больше нецифрового; строка с оставшимися сегментами
// больше исчерпанной.
package rpmver

import (
	"strings"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
)

// Compare сравнивает две версии пакета.
// Возвращает -1, если a < b, 0 при равенстве и +1, если a > b.
func Compare(a, b model.PackageVersion) int {
	switch {
	case a.Epoch < b.Epoch:
		return -1
	case a.Epoch > b.Epoch:
		return 1
	}
	if c := CompareSegments(a.Ver, b.Ver); c != 0 {
		return c
	}
	return CompareSegments(a.Rel, b.Rel)
}

// CompareSegments сравнивает строки version или release по сегментам.
func CompareSegments(a, b string) int {
	for a != "" && b != "" {
		segA, digitA, restA := nextSegment(a)
		segB, digitB, restB := nextSegment(b)

		switch {
		case digitA && !digitB:
			return 1
		case !digitA && digitB:
			return -1
		case digitA:
			if c := compareNumeric(segA, segB); c != 0 {
				return c
			}
		default:
			if c := strings.Compare(segA, segB); c != 0 {
				return c
			}
		}
		a, b = restA, restB
	}

	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

// nextSegment отделяет первый максимальный сегмент строки.
func nextSegment(s string) (segment string, digits bool, rest string) {
	digits = isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digits {
		i++
	}
	return s[:i], digits, s[i:]
}

// compareNumeric сравнивает десятичные строки произвольной длины без переполнения.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return strings.Compare(a, b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
