package wikibase

// mergePatch applies patch to target following RFC 7386 and returns the
// result. target is modified in place when it is non-nil.
//
// Objects merge key by key, a null patch value deletes the key, and any other
// value (arrays included) replaces the target value wholesale.
func mergePatch(target, patch map[string]any) map[string]any {
	if target == nil {
		target = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		switch pv := v.(type) {
		case nil:
			delete(target, k)
		case map[string]any:
			tv, _ := target[k].(map[string]any)
			target[k] = mergePatch(tv, pv)
		default:
			target[k] = v
		}
	}
	return target
}
