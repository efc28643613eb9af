package bootstrap

// Source is the fixed program evaluated by Install (spec §4.6).
// It establishes self/global, postMessage, the "message" listener set,
// queueMicrotask, close, console.*, and the timer family, all wired onto
// the five native hooks Install registers first.
//
// The postMessage encode walk (__encodeWalk) is adapted in
// spirit from the teacher's pure-JS globalThis.structuredClone
// (cryguy/worker's globals.go): same instanceof/typeof dispatch order,
// a Map-keyed cycle table — but instead of building a cloned JS
// value, it builds the tagged JSON intermediate internal/clone's
// FromWireJSON expects, so the whole walk, including cycle detection,
// happens engine-side while the codec and its limits stay engine-neutral.
const Source = `
(function(){
"use strict";

globalThis.self = globalThis;
globalThis.global = globalThis;

// ---- console -------------------------------------------------------

(function(){
	var levels = ["log", "info", "warn", "error", "debug"];
	var con = {};
	levels.forEach(function(level){
		con[level] = function(){
			var parts = [];
			for (var i = 0; i < arguments.length; i++) {
				parts.push(__stringifyArg(arguments[i]));
			}
			__consoleLog(level, parts.join(" "));
		};
	});
	globalThis.console = con;
})();

function __stringifyArg(v) {
	if (typeof v === "string") return v;
	if (v === null) return "null";
	if (v === undefined) return "undefined";
	if (typeof v === "object") {
		try { return JSON.stringify(v); } catch (e) { return "[object Object]"; }
	}
	return String(v);
}

// ---- message listener set -------------------------------------------

var __messageListeners = [];
globalThis.onmessage = null;

globalThis.addEventListener = function(type, callback) {
	if (type !== "message" || typeof callback !== "function") return;
	if (__messageListeners.indexOf(callback) === -1) __messageListeners.push(callback);
};

globalThis.removeEventListener = function(type, callback) {
	if (type !== "message") return;
	var idx = __messageListeners.indexOf(callback);
	if (idx !== -1) __messageListeners.splice(idx, 1);
};

globalThis.__handleMessage = function(data) {
	var event = { data: data, type: "message" };
	if (typeof globalThis.onmessage === "function") {
		globalThis.onmessage(event);
	}
	var listeners = __messageListeners.slice();
	for (var i = 0; i < listeners.length; i++) {
		listeners[i](event);
	}
};

// ---- postMessage / structured-clone encode walk ----------------------

var __cloneBufSeq = 0;

function __cloneError(reason) {
	var e = new Error("DataCloneError: " + reason);
	e.name = "DataCloneError";
	return e;
}

function __typedArrayKind(v) {
	if (v instanceof Int8Array) return "Int8Array";
	if (v instanceof Uint8ClampedArray) return "Uint8ClampedArray";
	if (v instanceof Uint8Array) return "Uint8Array";
	if (v instanceof Int16Array) return "Int16Array";
	if (v instanceof Uint16Array) return "Uint16Array";
	if (v instanceof Int32Array) return "Int32Array";
	if (v instanceof Uint32Array) return "Uint32Array";
	if (v instanceof Float32Array) return "Float32Array";
	if (v instanceof Float64Array) return "Float64Array";
	if (typeof BigInt64Array !== "undefined" && v instanceof BigInt64Array) return "BigInt64Array";
	if (typeof BigUint64Array !== "undefined" && v instanceof BigUint64Array) return "BigUint64Array";
	return null;
}

function __numOrSentinel(n) {
	if (Number.isNaN(n)) return "NaN";
	if (n === Infinity) return "Infinity";
	if (n === -Infinity) return "-Infinity";
	if (Object.is(n, -0)) return "-0";
	return n;
}

function __stageBuffer(buf) {
	__cloneBufSeq++;
	var name = "__cloneBuf" + __cloneBufSeq;
	var staged = buf;
	// The V8 backend's binary bridge reads a SharedArrayBuffer off the
	// named global (see internal/v8engine's ReadBinaryFromJS); QuickJS
	// has no SharedArrayBuffer and reads a plain ArrayBuffer directly.
	// Re-copy into whichever the running engine expects.
	if (typeof SharedArrayBuffer !== "undefined") {
		var sab = new SharedArrayBuffer(buf.byteLength);
		new Uint8Array(sab).set(new Uint8Array(buf));
		staged = sab;
	}
	globalThis[name] = staged;
	return name;
}

function __encodeWalk(value, seen, nextID) {
	if (value === undefined) return { t: "u" };
	if (value === null) return { t: "n" };

	var type = typeof value;
	if (type === "boolean") return { t: "b", v: value };
	if (type === "number") {
		if (Number.isInteger(value) && value >= -2147483648 && value <= 2147483647 && !Object.is(value, -0)) {
			return { t: "i", v: value };
		}
		return { t: "d", v: __numOrSentinel(value) };
	}
	if (type === "string") return { t: "s", v: value };
	if (type === "function") throw __cloneError("could not be cloned: function");
	if (type === "symbol") throw __cloneError("could not be cloned: symbol");
	if (typeof WeakMap !== "undefined" && value instanceof WeakMap) throw __cloneError("could not be cloned: WeakMap");
	if (typeof WeakSet !== "undefined" && value instanceof WeakSet) throw __cloneError("could not be cloned: WeakSet");
	if (typeof Promise !== "undefined" && value instanceof Promise) throw __cloneError("could not be cloned: promise");

	if (value instanceof Date) return { t: "date", v: __numOrSentinel(value.getTime()) };
	if (value instanceof RegExp) return { t: "re", src: value.source, flags: value.flags };

	if (value instanceof ArrayBuffer) {
		return { t: "ab", g: __stageBuffer(value.slice(0)), len: value.byteLength };
	}
	var taKind = __typedArrayKind(value);
	if (taKind) {
		var wholeBuf = value.buffer.slice(0);
		return { t: "ta", kind: taKind, g: __stageBuffer(wholeBuf), buflen: wholeBuf.byteLength, off: value.byteOffset, len: value.length };
	}
	if (typeof DataView !== "undefined" && value instanceof DataView) {
		var dvBuf = value.buffer.slice(0);
		return { t: "dv", g: __stageBuffer(dvBuf), buflen: dvBuf.byteLength, off: value.byteOffset, len: value.byteLength };
	}
	if (value instanceof Error) {
		return { t: "err", name: value.name || "Error", msg: value.message || "" };
	}

	if (seen.has(value)) {
		return { t: "ref", ref: seen.get(value) };
	}

	if (typeof Map !== "undefined" && value instanceof Map) {
		var mid = nextID.n++;
		seen.set(value, mid);
		var me = [];
		value.forEach(function(v, k){
			me.push({ k: __encodeWalk(k, seen, nextID), v: __encodeWalk(v, seen, nextID) });
		});
		return { t: "map", id: mid, e: me };
	}
	if (typeof Set !== "undefined" && value instanceof Set) {
		var sid = nextID.n++;
		seen.set(value, sid);
		var sv = [];
		value.forEach(function(v){ sv.push(__encodeWalk(v, seen, nextID)); });
		return { t: "set", id: sid, v: sv };
	}
	if (Array.isArray(value)) {
		var aid = nextID.n++;
		seen.set(value, aid);
		var av = [];
		for (var i = 0; i < value.length; i++) {
			av.push(__encodeWalk(value[i], seen, nextID));
		}
		return { t: "a", id: aid, v: av };
	}
	if (type === "object") {
		var oid = nextID.n++;
		seen.set(value, oid);
		var oe = [];
		var keys = Object.keys(value);
		for (var j = 0; j < keys.length; j++) {
			oe.push({ k: keys[j], v: __encodeWalk(value[keys[j]], seen, nextID) });
		}
		return { t: "o", id: oid, e: oe };
	}
	throw __cloneError("unrecognized value kind");
}

function __jsonReplacer(key, value) {
	if (typeof value === "number" && (Number.isNaN(value) || value === Infinity || value === -Infinity)) {
		return __numOrSentinel(value);
	}
	return value;
}

globalThis.postMessage = function(value) {
	var tagged = __encodeWalk(value, new Map(), { n: 0 });
	var json = JSON.stringify(tagged, __jsonReplacer);
	__postMessageToHost(json);
};

// ---- queueMicrotask ---------------------------------------------------

globalThis.queueMicrotask = function(fn) {
	Promise.resolve().then(fn);
};

// ---- close -------------------------------------------------------------

globalThis.close = function() {
	__requestClose();
};

// ---- timers -------------------------------------------------------------

var __timerCallbacks = {};
var __timerSeq = 0;

function __installTimer(handler, delay, repeating, extraArgs) {
	var fn = handler;
	if (typeof handler === "string") {
		fn = new Function(handler);
	}
	if (typeof fn !== "function") return 0;
	__timerSeq++;
	var id = __timerSeq;
	__timerCallbacks[id] = { fn: fn, args: extraArgs };
	__scheduleTimer(id, delay || 0, !!repeating);
	return id;
}

globalThis.setTimeout = function(handler, delay) {
	return __installTimer(handler, delay, false, Array.prototype.slice.call(arguments, 2));
};
globalThis.setInterval = function(handler, delay) {
	return __installTimer(handler, delay, true, Array.prototype.slice.call(arguments, 2));
};
globalThis.setImmediate = function(handler) {
	return __installTimer(handler, 0, false, Array.prototype.slice.call(arguments, 1));
};
globalThis.clearTimeout = globalThis.clearInterval = globalThis.clearImmediate = function(id) {
	delete __timerCallbacks[id];
	__cancelTimer(id || 0);
};

// Invoked by the event loop when a scheduled timer's deadline elapses.
globalThis.__fireTimer = function(id) {
	var entry = __timerCallbacks[id];
	if (!entry) return;
	entry.fn.apply(globalThis, entry.args);
};

})();
`
