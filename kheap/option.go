/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package kheap

import "github.com/cloudwego/kalloc/unsafex/malloc"

// DefaultSize is the heap size used by DefaultOption.
const DefaultSize = 100 << 10 // 100KB

// Strategy selects the allocator installed in a Heap.
type Strategy int

const (
	// StrategyFixedSizeBlock serves small requests from size class lists and
	// everything else from a linked list allocator.
	StrategyFixedSizeBlock Strategy = iota

	// StrategyLinkedList serves every request from a first-fit linked list
	// of free regions.
	StrategyLinkedList
)

func (s Strategy) String() string {
	switch s {
	case StrategyFixedSizeBlock:
		return "fixed_size_block"
	case StrategyLinkedList:
		return "linked_list"
	}
	return "unknown"
}

// Provider selects where the memory of a Heap comes from.
type Provider int

const (
	// ProviderMmap maps anonymous memory outside of the Go heap.
	ProviderMmap Provider = iota

	// ProviderGoHeap allocates the heap from the Go heap.
	ProviderGoHeap

	// ProviderPool is like ProviderGoHeap with pooled memory,
	// for creating many short-lived heaps.
	ProviderPool
)

// Option configures the size, strategy and memory provider of a Heap.
type Option struct {
	// Size is the heap size in bytes, it must be at least malloc.NodeSize.
	// ProviderMmap rounds it up to the page size.
	Size int

	// Strategy is the allocator serving the heap.
	Strategy Strategy

	// Coalesce merges adjacent free regions of the linked list allocator,
	// including the fallback of the fixed size block allocator.
	Coalesce bool

	// Provider is where the memory comes from.
	Provider Provider

	// OOMHandler is called by MustAllocate when the heap is exhausted,
	// before it panics. By default it logs with log.Printf.
	OOMHandler func(size, align uintptr)
}

// DefaultOption returns the default values of Option.
func DefaultOption() *Option {
	return &Option{
		Size:     DefaultSize,
		Strategy: StrategyFixedSizeBlock,
		Provider: ProviderMmap,
	}
}

func (o *Option) initOptions() []malloc.InitOption {
	if o.Coalesce {
		return []malloc.InitOption{malloc.WithCoalescing()}
	}
	return nil
}
