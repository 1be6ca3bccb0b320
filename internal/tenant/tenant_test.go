/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package tenant

import (
	"context"
	"testing"
)

func TestWithIDRoundTrip(t *testing.T) {
	ctx := WithID(context.Background(), "acme-corp")
	if got := FromContext(ctx); got != "acme-corp" {
		t.Errorf("FromContext = %q, want acme-corp", got)
	}
}

func TestFromContextEmpty(t *testing.T) {
	if got := FromContext(context.Background()); got != "" {
		t.Errorf("FromContext on bare context = %q, want empty", got)
	}
}
