// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent defines the capability every pipeline stage implements and the
plumbing that connects stages to the workflow engine.

# Overview

An Agent turns an input payload into a Result. It never panics out and never
touches run state; every expected failure (timeout, unavailable upstream,
invalid input) comes back as a failed Result carrying a types.ErrorCode, so
the engine can apply one retry and failure policy to all of them.

# Architecture

	┌──────────────────────────────────────────────────────────┐
	│                   workflow.Engine                        │
	│        (request message per step, waits on reply)        │
	├──────────────────────────────────────────────────────────┤
	│                     bus.Bus                              │
	├──────────────────────────────────────────────────────────┤
	│   Attachment (one subscription per agent name)           │
	├──────────────────────────────────────────────────────────┤
	│   Base (panic recovery, statistics, logging)             │
	│   ┌──────────┐ ┌─────────┐ ┌─────────────┐ ┌─────────┐   │
	│   │ Research │ │ Scoring │ │ Positioning │ │ Content │...│
	│   └──────────┘ └─────────┘ └─────────────┘ └─────────┘   │
	└──────────────────────────────────────────────────────────┘

# Collaborators

Generator, Fetcher and Exporter are the narrow interfaces stages use to reach
the outside world. RetryingGenerator retries RATE_LIMITED failures with
exponential backoff and reports the attempt count; RateLimitedGenerator caps
outbound call rate.

# Registry

Registry holds the stateless agent singletons shared by all runs. AttachAll
subscribes each of them to the bus under its name.
*/
package agent
