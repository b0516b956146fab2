package web

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v3"
)

func instanceIDParam(c fiber.Ctx) (int64, error) {
	raw := c.Params("instanceId")

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid instance id %q", raw)
	}

	return id, nil
}

// boolQuery reads an optional boolean query parameter; absent means false.
func boolQuery(c fiber.Ctx, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q", key, raw)
	}

	return v, nil
}
