package discovery

import (
	"reflect"
	"testing"
)

func TestFilter_FilterByName(t *testing.T) {
	filter := NewFilter()
	ids := []string{
		"tests/Unit/UserTest.php::testCreate",
		"tests/Unit/UserTest.php::testDelete",
		"tests/Feature/PaymentTest.php",
		"tests/Feature/PaymentServiceTest.php",
		"src/test/java/com/acme/OrderServiceTest.java",
		"internal/shop/user_test.go::TestOrder",
	}

	tests := []struct {
		name     string
		pattern  string
		expected []string
	}{
		{
			name:     "empty pattern keeps everything",
			pattern:  "",
			expected: ids,
		},
		{
			name:    "glob on file name keeps every method of the file",
			pattern: "*UserTest.php",
			expected: []string{
				"tests/Unit/UserTest.php::testCreate",
				"tests/Unit/UserTest.php::testDelete",
			},
		},
		{
			name:    "wildcards on both sides",
			pattern: "*Payment*",
			expected: []string{
				"tests/Feature/PaymentTest.php",
				"tests/Feature/PaymentServiceTest.php",
			},
		},
		{
			name:     "plain pattern is a substring of the file name",
			pattern:  "OrderService",
			expected: []string{"src/test/java/com/acme/OrderServiceTest.java"},
		},
		{
			name:     "method names are not matched",
			pattern:  "TestOrder",
			expected: nil,
		},
		{
			name:     "directories are not matched",
			pattern:  "Feature",
			expected: nil,
		},
		{
			name:    "parts must appear in order",
			pattern: "*Payment*Service*",
			expected: []string{
				"tests/Feature/PaymentServiceTest.php",
			},
		},
		{
			name:     "go test files",
			pattern:  "*_test.go",
			expected: []string{"internal/shop/user_test.go::TestOrder"},
		},
		{
			name:     "question mark globs only match exactly",
			pattern:  "user_tes?.go",
			expected: []string{"internal/shop/user_test.go::TestOrder"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := filter.FilterByName(ids, tt.pattern)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("FilterByName(%q) = %v, expected %v", tt.pattern, result, tt.expected)
			}
		})
	}
}

func TestFilter_FilterByName_EmptyList(t *testing.T) {
	if result := NewFilter().FilterByName(nil, "*Test.php"); len(result) != 0 {
		t.Errorf("expected empty result, got %v", result)
	}
}
